package document

import (
	"context"
	"image"
)

// Backend is a loaded document inside an engine. Implementations are not
// safe for concurrent use; callers serialize through the Handle lock.
type Backend interface {
	// Load (re)loads the document from uri on the same backend. It is used to
	// retry after the user supplied a password.
	Load(uri, password string) error
	// Save writes the document to a local path.
	Save(path string) error
	PageCount() int
	PageSize(page int) (Size, error)
	Render(rc RenderContext) (image.Image, error)
	Close() error
}

// Factory creates backends. Open sniffs the content and picks a backend.
type Factory interface {
	Open(ctx context.Context, uri, password string) (Backend, error)
}

// AsyncRenderer is implemented by engines that render on their own thread.
// done is called exactly once, from any goroutine.
type AsyncRenderer interface {
	RenderAsync(rc RenderContext, done func(image.Image, error))
}

// Mapping associates a rectangle with a piece of page data.
type Mapping[T any] struct {
	Area Rect
	Data T
}

type Link struct {
	URI  string
	Dest string
	// Page is the zero-based target page or -1.
	Page int
}

type FormField struct {
	Name     string
	Type     string
	Value    string
	ReadOnly bool
}

type ImageInfo struct {
	ID     int
	Width  int
	Height int
}

// Glyph is one selectable text character and its page-space box.
type Glyph struct {
	Text string
	Rect Rect
}

type LinkMapper interface {
	PageLinks(page int) ([]Mapping[Link], error)
}

type FormFieldMapper interface {
	PageFormFields(page int) ([]Mapping[FormField], error)
}

type ImageMapper interface {
	PageImages(page int) ([]Mapping[ImageInfo], error)
}

// TextMapper and TextFinder go through the font subsystem: callers must hold
// the font-cache lock.
type TextMapper interface {
	PageGlyphs(page int) ([]Glyph, error)
}

type TextFinder interface {
	FindText(page int, text string, caseSensitive bool) ([]Rect, error)
}

type OutlineItem struct {
	Title string
	URI   string
	// Page is the zero-based target page or -1.
	Page     int
	Children []OutlineItem
}

type OutlineProvider interface {
	Outline() ([]OutlineItem, error)
}

type FontInfo struct {
	Name     string
	Type     string
	Encoding string
	Embedded bool
	Subset   bool
}

// FontScanner lists the fonts used by one page. Callers hold the font-cache lock.
type FontScanner interface {
	PageFonts(page int) ([]FontInfo, error)
}

type ExportFormat string

const (
	ExportPDF ExportFormat = "pdf"
	ExportPNG ExportFormat = "png"
)

// ExportContext describes an export (print) output.
type ExportContext struct {
	Path          string
	Format        ExportFormat
	PagesPerSheet int
	// Sheets is the number of sheets that will be emitted.
	Sheets int
	// Width and Height give the sheet size in points.
	Width  float64
	Height float64
}

// FileExporter writes pages to a file, several pages per sheet.
type FileExporter interface {
	ExportBegin(ec ExportContext) error
	ExportBeginPage() error
	ExportDrawPage(page int) error
	ExportEndPage() error
	ExportEnd() error
}
