package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/language"
	"golang.org/x/text/search"

	"github.com/tupyy/docjobs/pkg/document"
)

var (
	errPageRange = errors.New("page out of range")
	errNotLoaded = errors.New("document not loaded")
	errNoText    = errors.New("document has no text layer")
)

// textPage returns the 1-based ledongthuc page for a zero-based index.
func (d *Document) textPage(page int) (pdf.Page, error) {
	if page < 0 || page >= len(d.pages) {
		return pdf.Page{}, errPageRange
	}
	if d.text == nil {
		return pdf.Page{}, errNoText
	}
	p := d.text.Page(page + 1)
	if p.V.IsNull() {
		return pdf.Page{}, errPageRange
	}
	return p, nil
}

// PageGlyphs lists the characters of a page with their boxes in page space,
// origin at the top left.
func (d *Document) PageGlyphs(page int) (glyphs []document.Glyph, err error) {
	p, err := d.textPage(page)
	if err != nil {
		return nil, err
	}
	height := d.pages[page].Height

	// the content parser panics on malformed streams
	defer func() {
		if rec := recover(); rec != nil {
			glyphs, err = nil, fmt.Errorf("page %d: malformed content: %v", page, rec)
		}
	}()

	for _, t := range p.Content().Text {
		if t.S == "" {
			continue
		}
		glyphs = append(glyphs, document.Glyph{
			Text: t.S,
			Rect: flipY(t.X, t.Y, t.X+t.W, t.Y+t.FontSize, height),
		})
	}
	return glyphs, nil
}

// flipY converts a PDF user-space box (origin bottom left) to page space.
func flipY(x0, y0, x1, y1, height float64) document.Rect {
	return document.Rect{X0: x0, Y0: height - y1, X1: x1, Y1: height - y0}.Canon()
}

// FindText returns one box per occurrence of text on page.
func (d *Document) FindText(page int, text string, caseSensitive bool) ([]document.Rect, error) {
	glyphs, err := d.PageGlyphs(page)
	if err != nil {
		return nil, err
	}
	return findInGlyphs(glyphs, text, caseSensitive), nil
}

func findInGlyphs(glyphs []document.Glyph, text string, caseSensitive bool) []document.Rect {
	if text == "" || len(glyphs) == 0 {
		return nil
	}

	var sb strings.Builder
	offsets := make([]int, len(glyphs))
	for i, g := range glyphs {
		offsets[i] = sb.Len()
		sb.WriteString(g.Text)
	}
	haystack := sb.String()

	var opts []search.Option
	if !caseSensitive {
		opts = append(opts, search.IgnoreCase)
	}
	m := search.New(language.Und, opts...)
	pattern := m.CompileString(text)

	var rects []document.Rect
	for pos := 0; pos < len(haystack); {
		start, end := pattern.IndexString(haystack[pos:])
		if start < 0 {
			break
		}
		start, end = start+pos, end+pos
		rects = append(rects, coverage(glyphs, offsets, start, end))
		if end <= start {
			end = start + 1
		}
		pos = end
	}
	return rects
}

// coverage is the union of the boxes of the glyphs overlapping [start, end).
func coverage(glyphs []document.Glyph, offsets []int, start, end int) document.Rect {
	var r document.Rect
	first := true
	for i, g := range glyphs {
		gs, ge := offsets[i], offsets[i]+len(g.Text)
		if ge <= start || gs >= end {
			continue
		}
		if first {
			r, first = g.Rect, false
			continue
		}
		r = r.Union(g.Rect)
	}
	return r
}

// PageFonts lists the fonts referenced by a page's resources.
func (d *Document) PageFonts(page int) ([]document.FontInfo, error) {
	p, err := d.textPage(page)
	if err != nil {
		return nil, err
	}
	var fonts []document.FontInfo
	for _, name := range p.Fonts() {
		fonts = append(fonts, fontInfo(p.Font(name)))
	}
	return fonts, nil
}

func fontInfo(f pdf.Font) document.FontInfo {
	name, subset := baseFontName(f.BaseFont())
	info := document.FontInfo{
		Name:     name,
		Type:     f.V.Key("Subtype").Name(),
		Encoding: f.V.Key("Encoding").Name(),
		Subset:   subset,
	}

	desc := f.V.Key("FontDescriptor")
	if desc.IsNull() {
		// composite fonts keep the descriptor on the descendant
		if desc = f.V.Key("DescendantFonts").Index(0).Key("FontDescriptor"); desc.IsNull() {
			return info
		}
	}
	for _, key := range []string{"FontFile", "FontFile2", "FontFile3"} {
		if !desc.Key(key).IsNull() {
			info.Embedded = true
			break
		}
	}
	return info
}

// baseFontName strips the six-letter subset tag ("ABCDEF+Name").
func baseFontName(base string) (string, bool) {
	if len(base) > 7 && base[6] == '+' {
		if strings.IndexFunc(base[:6], func(r rune) bool { return r < 'A' || r > 'Z' }) < 0 {
			return base[7:], true
		}
	}
	return base, false
}
