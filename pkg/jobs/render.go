package jobs

import (
	"errors"
	"image"
	"image/color"
	"strings"

	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
)

// RenderFlags selects the mappings computed with a render.
type RenderFlags uint8

const (
	RenderLinks RenderFlags = 1 << iota
	RenderForms
	RenderImages
	RenderText
)

func (f RenderFlags) Has(flag RenderFlags) bool { return f&flag != 0 }

type SelectionStyle int

const (
	SelectGlyph SelectionStyle = iota
	SelectWord
	SelectLine
)

// Selection is a page-space rectangle to highlight, expanded to whole glyphs,
// words or lines depending on Style.
type Selection struct {
	Rect       document.Rect
	Style      SelectionStyle
	Text       color.Color
	Background color.Color
}

type RenderParams struct {
	Page         int
	Rotation     int
	Scale        float64
	TargetWidth  int
	TargetHeight int
	Flags        RenderFlags
	Selection    *Selection
}

// RenderResult holds the surface and the screen-space mappings of a page.
type RenderResult struct {
	Surface          *image.RGBA
	SelectionSurface *image.RGBA
	SelectionRegion  []document.Rect

	Links  []document.Mapping[document.Link]
	Forms  []document.Mapping[document.FormField]
	Images []document.Mapping[document.ImageInfo]
	Text   []document.Mapping[document.Glyph]
}

type RenderJob struct {
	*Base
	params    RenderParams
	result    RenderResult
	pageReady []func(*RenderJob)
}

func NewRenderJob(doc *document.Handle, params RenderParams) *RenderJob {
	if params.Scale <= 0 {
		params.Scale = 1
	}
	params.Rotation = int(document.NormalizeRotation(params.Rotation))
	j := &RenderJob{params: params}
	j.Base = NewBase(KindRender, doc, j)
	return j
}

func (j *RenderJob) Params() RenderParams { return j.params }

// Result is valid once the job is terminal.
func (j *RenderJob) Result() *RenderResult { return &j.result }

// OnPageReady registers a callback fired as soon as the surface is available,
// before mappings are computed.
func (j *RenderJob) OnPageReady(fn func(*RenderJob)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pageReady = append(j.pageReady, fn)
}

func (j *RenderJob) renderContext() document.RenderContext {
	return document.RenderContext{
		Page:         j.params.Page,
		Rotation:     document.Rotation(j.params.Rotation),
		Scale:        j.params.Scale,
		TargetWidth:  j.params.TargetWidth,
		TargetHeight: j.params.TargetHeight,
	}
}

func (j *RenderJob) emitPageReady() {
	j.mu.Lock()
	listeners := append([]func(*RenderJob){}, j.pageReady...)
	j.mu.Unlock()
	for _, fn := range listeners {
		fn := fn
		j.post(func() { fn(j) })
	}
}

func (j *RenderJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	backend := doc.Backend()
	rctx := j.renderContext()

	if async, ok := backend.(document.AsyncRenderer); ok {
		// mappings are computed now while the lock is held; the surface
		// arrives later from the engine
		j.computeMappings(rc, backend, rctx)
		async.RenderAsync(rctx, func(img image.Image, err error) {
			// the engine may call back while the document lock is still held
			go j.finishAsync(img, err)
		})
		return ErrDetached
	}

	img, err := backend.Render(rctx)
	if err != nil {
		return err
	}
	if img == nil {
		return errors.New("engine returned no surface")
	}
	j.result.Surface = copyRGBA(img)
	j.emitPageReady()

	j.computeMappings(rc, backend, rctx)
	if j.params.Selection != nil {
		j.computeSelection(rc, backend, rctx)
	}
	return nil
}

func (j *RenderJob) finishAsync(img image.Image, err error) {
	switch {
	case err != nil:
		Finish(j, err)
	case img == nil:
		Finish(j, errors.New("engine returned no surface"))
	default:
		j.result.Surface = copyRGBA(img)
		j.emitPageReady()
		Finish(j, nil)
	}
}

// computeMappings fills the requested mappings. Missing capabilities and
// mapping failures leave the mapping empty.
func (j *RenderJob) computeMappings(rc *RunContext, backend document.Backend, rctx document.RenderContext) {
	if j.params.Flags == 0 {
		return
	}
	size, err := backend.PageSize(rctx.Page)
	if err != nil {
		j.warn("page size", err)
		return
	}
	t := rctx.Transform(size)
	page := rctx.Page

	if m, ok := backend.(document.LinkMapper); ok && j.params.Flags.Has(RenderLinks) {
		links, err := m.PageLinks(page)
		j.warn("links", err)
		j.result.Links = transformMappings(t, links)
	}
	if m, ok := backend.(document.FormFieldMapper); ok && j.params.Flags.Has(RenderForms) {
		fields, err := m.PageFormFields(page)
		j.warn("form fields", err)
		j.result.Forms = transformMappings(t, fields)
	}
	if m, ok := backend.(document.ImageMapper); ok && j.params.Flags.Has(RenderImages) {
		images, err := m.PageImages(page)
		j.warn("images", err)
		j.result.Images = transformMappings(t, images)
	}
	if m, ok := backend.(document.TextMapper); ok && j.params.Flags.Has(RenderText) {
		var glyphs []document.Glyph
		err := rc.WithFontCache(func() error {
			var err error
			glyphs, err = m.PageGlyphs(page)
			return err
		})
		j.warn("text", err)
		for _, g := range glyphs {
			area := t.Apply(g.Rect)
			g.Rect = area
			j.result.Text = append(j.result.Text, document.Mapping[document.Glyph]{Area: area, Data: g})
		}
	}
}

func (j *RenderJob) computeSelection(rc *RunContext, backend document.Backend, rctx document.RenderContext) {
	m, ok := backend.(document.TextMapper)
	if !ok {
		return
	}
	size, err := backend.PageSize(rctx.Page)
	if err != nil {
		j.warn("page size", err)
		return
	}

	var glyphs []document.Glyph
	err = rc.WithFontCache(func() error {
		var err error
		glyphs, err = m.PageGlyphs(rctx.Page)
		return err
	})
	if err != nil {
		j.warn("selection", err)
		return
	}

	sel := j.params.Selection
	t := rctx.Transform(size)
	for _, area := range selectedAreas(glyphs, sel.Rect.Canon(), sel.Style) {
		j.result.SelectionRegion = append(j.result.SelectionRegion, t.Apply(area))
	}
	if len(j.result.SelectionRegion) == 0 {
		return
	}

	text, background := sel.Text, sel.Background
	if text == nil {
		text = color.White
	}
	if background == nil {
		background = color.RGBA{R: 0x35, G: 0x84, B: 0xe4, A: 0xff}
	}
	j.result.SelectionSurface = highlight(j.result.Surface, j.result.SelectionRegion, text, background)
}

func (j *RenderJob) warn(what string, err error) {
	if err == nil {
		return
	}
	zap.S().Named("jobs").Warnw("mapping failed", "job", j.ID(), "page", j.params.Page, "mapping", what, "error", err)
}

func transformMappings[T any](t document.Transform, in []document.Mapping[T]) []document.Mapping[T] {
	if len(in) == 0 {
		return nil
	}
	out := make([]document.Mapping[T], 0, len(in))
	for _, m := range in {
		out = append(out, document.Mapping[T]{Area: t.Apply(m.Area), Data: m.Data})
	}
	return out
}

// selectedAreas groups glyphs by style and returns the page-space box of
// every group touching sel.
func selectedAreas(glyphs []document.Glyph, sel document.Rect, style SelectionStyle) []document.Rect {
	var areas []document.Rect
	for _, group := range groupGlyphs(glyphs, style) {
		hit := false
		var box document.Rect
		for _, g := range group {
			box = box.Union(g.Rect)
			if g.Rect.Intersects(sel) {
				hit = true
			}
		}
		if hit {
			areas = append(areas, box)
		}
	}
	return areas
}

func groupGlyphs(glyphs []document.Glyph, style SelectionStyle) [][]document.Glyph {
	var (
		groups  [][]document.Glyph
		current []document.Glyph
	)
	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}

	for i, g := range glyphs {
		blank := strings.TrimSpace(g.Text) == ""
		if style == SelectGlyph {
			if !blank {
				groups = append(groups, []document.Glyph{g})
			}
			continue
		}
		if i > 0 && !sameLine(glyphs[i-1].Rect, g.Rect) {
			flush()
		}
		if blank {
			if style == SelectWord {
				flush()
			}
			continue
		}
		current = append(current, g)
	}
	flush()
	return groups
}

// sameLine reports whether b's vertical center falls inside a.
func sameLine(a, b document.Rect) bool {
	c := (b.Y0 + b.Y1) / 2
	return c >= a.Y0 && c <= a.Y1
}

var errNoDocument = errors.New("job has no document")
