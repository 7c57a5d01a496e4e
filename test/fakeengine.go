package test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// FakeEngine is a deterministic in-memory document engine. Every document it
// opens shares the engine's configuration. It implements document.Factory and
// its documents implement every optional capability.
type FakeEngine struct {
	// Pages gives the page sizes of opened documents. A file written by
	// FakeDocument.Save overrides it when opened again.
	Pages []document.Size
	// Password, when set, makes documents encrypted.
	Password string
	// Async makes documents implement document.AsyncRenderer.
	Async bool
	// Texts holds the text of each page, laid out on one line.
	Texts   map[int]string
	Links   map[int][]document.Mapping[document.Link]
	Forms   map[int][]document.Mapping[document.FormField]
	Images  map[int][]document.Mapping[document.ImageInfo]
	Fonts   map[int][]document.FontInfo
	Outline []document.OutlineItem

	// RenderHook runs at the start of every render, inside the engine.
	RenderHook func(page int)
	RenderErr  error
	OpenErr    error
	ExportErr  error

	mu       sync.Mutex
	rendered []int
	exported [][]int
	overlaps atomic.Int32
	opened   atomic.Int32
	closed   atomic.Int32
}

var errPageRange = errors.New("page out of range")

const (
	GlyphWidth  = 10.0
	GlyphHeight = 12.0
)

func NewFakeEngine(pages int) *FakeEngine {
	e := &FakeEngine{}
	for range pages {
		e.Pages = append(e.Pages, document.Size{Width: 612, Height: 792})
	}
	return e
}

// PageColor is the color filling every render of page.
func PageColor(page int) color.RGBA {
	return color.RGBA{R: uint8(page * 37), G: uint8(page * 59), B: uint8(page * 83), A: 0xff}
}

type savedDocument struct {
	Pages []document.Size `json:"pages"`
}

func (e *FakeEngine) Open(ctx context.Context, uri, password string) (document.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	if err := e.checkPassword(uri, password); err != nil {
		return nil, err
	}

	pages := e.Pages
	if path, err := document.LocalPath(uri); err == nil {
		if data, err := os.ReadFile(path); err == nil {
			var saved savedDocument
			if err := json.Unmarshal(data, &saved); err != nil {
				return nil, srvErrors.NewInvalidDocumentError(uri, err)
			}
			pages = saved.Pages
		}
	}

	e.opened.Add(1)
	return e.newDocument(uri, pages), nil
}

// NewHandle returns a handle on a fresh document without going through Open.
func (e *FakeEngine) NewHandle(uri string) *document.Handle {
	e.opened.Add(1)
	return document.NewHandle(uri, e.newDocument(uri, e.Pages))
}

func (e *FakeEngine) newDocument(uri string, pages []document.Size) document.Backend {
	d := &FakeDocument{engine: e, uri: uri, pages: append([]document.Size(nil), pages...)}
	if e.Async {
		return &FakeAsyncDocument{FakeDocument: d}
	}
	return d
}

func (e *FakeEngine) checkPassword(uri, password string) error {
	switch {
	case e.Password == "":
		return nil
	case password == "":
		return srvErrors.NewEncryptedDocumentError(uri)
	case password != e.Password:
		return srvErrors.NewWrongPasswordError(uri)
	}
	return nil
}

// Rendered returns the pages rendered so far, in order.
func (e *FakeEngine) Rendered() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.rendered...)
}

// Exported returns the sheets written by the last export.
func (e *FakeEngine) Exported() [][]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]int(nil), e.exported...)
}

// Overlaps counts engine calls that started while another call on the same
// document was running.
func (e *FakeEngine) Overlaps() int { return int(e.overlaps.Load()) }

func (e *FakeEngine) Opened() int { return int(e.opened.Load()) }

func (e *FakeEngine) Closed() int { return int(e.closed.Load()) }


// FakeDocument is a document opened by FakeEngine.
type FakeDocument struct {
	engine *FakeEngine
	uri    string
	pages  []document.Size

	inFlight atomic.Int32
	sheet    []int
}

func (d *FakeDocument) enter() func() {
	if d.inFlight.Add(1) > 1 {
		d.engine.overlaps.Add(1)
	}
	return func() { d.inFlight.Add(-1) }
}

func (d *FakeDocument) Load(uri, password string) error {
	if err := d.engine.checkPassword(uri, password); err != nil {
		return err
	}
	d.uri = uri
	return nil
}

func (d *FakeDocument) Save(path string) error {
	defer d.enter()()
	data, err := json.Marshal(savedDocument{Pages: d.pages})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *FakeDocument) PageCount() int { return len(d.pages) }

func (d *FakeDocument) PageSize(page int) (document.Size, error) {
	if page < 0 || page >= len(d.pages) {
		return document.Size{}, srvErrors.NewInvalidDocumentError(d.uri, errPageRange)
	}
	return d.pages[page], nil
}

func (d *FakeDocument) Render(rc document.RenderContext) (image.Image, error) {
	defer d.enter()()
	if d.engine.RenderHook != nil {
		d.engine.RenderHook(rc.Page)
	}
	if d.engine.RenderErr != nil {
		return nil, d.engine.RenderErr
	}
	size, err := d.PageSize(rc.Page)
	if err != nil {
		return nil, err
	}

	d.engine.mu.Lock()
	d.engine.rendered = append(d.engine.rendered, rc.Page)
	d.engine.mu.Unlock()

	w, h := rc.SurfaceSize(size)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := PageColor(rc.Page)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}

func (d *FakeDocument) Close() error {
	d.engine.closed.Add(1)
	return nil
}

func (d *FakeDocument) PageLinks(page int) ([]document.Mapping[document.Link], error) {
	return d.engine.Links[page], nil
}

func (d *FakeDocument) PageFormFields(page int) ([]document.Mapping[document.FormField], error) {
	return d.engine.Forms[page], nil
}

func (d *FakeDocument) PageImages(page int) ([]document.Mapping[document.ImageInfo], error) {
	return d.engine.Images[page], nil
}

// PageGlyphs lays the page text out on one line, GlyphWidth points per
// character.
func (d *FakeDocument) PageGlyphs(page int) ([]document.Glyph, error) {
	text := d.engine.Texts[page]
	glyphs := make([]document.Glyph, 0, len(text))
	for i, r := range []rune(text) {
		x := float64(i) * GlyphWidth
		glyphs = append(glyphs, document.Glyph{
			Text: string(r),
			Rect: document.Rect{X0: x, Y0: 0, X1: x + GlyphWidth, Y1: GlyphHeight},
		})
	}
	return glyphs, nil
}

func (d *FakeDocument) FindText(page int, text string, caseSensitive bool) ([]document.Rect, error) {
	defer d.enter()()
	hay, needle := []rune(d.engine.Texts[page]), []rune(text)
	if !caseSensitive {
		hay = []rune(strings.ToLower(string(hay)))
		needle = []rune(strings.ToLower(string(needle)))
	}
	if len(needle) == 0 {
		return nil, nil
	}

	var rects []document.Rect
	for i := 0; i+len(needle) <= len(hay); i++ {
		if string(hay[i:i+len(needle)]) == string(needle) {
			x := float64(i) * GlyphWidth
			rects = append(rects, document.Rect{X0: x, Y0: 0, X1: x + float64(len(needle))*GlyphWidth, Y1: GlyphHeight})
		}
	}
	return rects, nil
}

func (d *FakeDocument) Outline() ([]document.OutlineItem, error) {
	return d.engine.Outline, nil
}

func (d *FakeDocument) PageFonts(page int) ([]document.FontInfo, error) {
	return d.engine.Fonts[page], nil
}

func (d *FakeDocument) ExportBegin(ec document.ExportContext) error {
	if d.engine.ExportErr != nil {
		return d.engine.ExportErr
	}
	d.engine.mu.Lock()
	d.engine.exported = nil
	d.engine.mu.Unlock()
	return os.WriteFile(ec.Path, nil, 0o644)
}

func (d *FakeDocument) ExportBeginPage() error {
	d.sheet = []int{}
	return nil
}

func (d *FakeDocument) ExportDrawPage(page int) error {
	if _, err := d.PageSize(page); err != nil {
		return err
	}
	d.sheet = append(d.sheet, page)
	return nil
}

func (d *FakeDocument) ExportEndPage() error {
	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()
	d.engine.exported = append(d.engine.exported, d.sheet)
	d.sheet = nil
	return nil
}

func (d *FakeDocument) ExportEnd() error { return nil }

// FakeAsyncDocument renders on its own goroutine.
type FakeAsyncDocument struct {
	*FakeDocument
}

func (d *FakeAsyncDocument) RenderAsync(rc document.RenderContext, done func(image.Image, error)) {
	go func() {
		time.Sleep(time.Millisecond)
		done(d.FakeDocument.Render(rc))
	}()
}

var (
	_ document.Factory         = (*FakeEngine)(nil)
	_ document.Backend         = (*FakeDocument)(nil)
	_ document.LinkMapper      = (*FakeDocument)(nil)
	_ document.FormFieldMapper = (*FakeDocument)(nil)
	_ document.ImageMapper     = (*FakeDocument)(nil)
	_ document.TextMapper      = (*FakeDocument)(nil)
	_ document.TextFinder      = (*FakeDocument)(nil)
	_ document.OutlineProvider = (*FakeDocument)(nil)
	_ document.FontScanner     = (*FakeDocument)(nil)
	_ document.FileExporter    = (*FakeDocument)(nil)
	_ document.AsyncRenderer   = (*FakeAsyncDocument)(nil)
)
