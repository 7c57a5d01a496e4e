package engine

import (
	"image"
	"math"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// Document is a PDF loaded by the engine. pdfcpu holds the object model used
// for saving, MuPDF rasterizes pages and ledongthuc/pdf reads text, fonts and
// annotations. Like every document.Backend it is not safe for concurrent use.
type Document struct {
	engine *Engine

	uri    string
	src    *source
	model  *model.Context
	raster *fitz.Document
	file   *os.File
	text   *pdf.Reader
	pages  []document.Size

	export *exportState
}

// Load replaces the loaded content with the document at uri. On error the
// previous content is kept.
func (d *Document) Load(uri, password string) error {
	src, err := d.engine.prepare(uri)
	if err != nil {
		return err
	}

	mctx, err := readContext(uri, src.path, password)
	if err != nil {
		src.cleanup()
		return err
	}
	raster, err := d.engine.openRaster(uri, password, src)
	if err != nil {
		src.cleanup()
		return err
	}

	pages, err := pageSizes(mctx, raster)
	if err != nil {
		_ = raster.Close()
		src.cleanup()
		return srvErrors.NewInvalidDocumentError(uri, err)
	}

	// text extraction is optional: a document it cannot parse still renders
	file, reader, err := pdf.Open(src.path)
	if err != nil {
		d.engine.log.Warnw("text layer unavailable", "uri", uri, "error", err)
		file, reader = nil, nil
	}

	_ = d.Close()
	d.uri = uri
	d.src = src
	d.model = mctx
	d.raster = raster
	d.file = file
	d.text = reader
	d.pages = pages

	d.engine.log.Debugw("document loaded", "uri", uri, "pages", len(pages))
	return nil
}

func pageSizes(mctx *model.Context, raster *fitz.Document) ([]document.Size, error) {
	dims, err := mctx.PageDims()
	if err == nil && len(dims) == raster.NumPage() {
		sizes := make([]document.Size, 0, len(dims))
		for _, dim := range dims {
			sizes = append(sizes, document.Size{Width: dim.Width, Height: dim.Height})
		}
		return sizes, nil
	}

	sizes := make([]document.Size, 0, raster.NumPage())
	for i := 0; i < raster.NumPage(); i++ {
		b, err := raster.Bound(i)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, document.Size{Width: float64(b.Dx()), Height: float64(b.Dy())})
	}
	return sizes, nil
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	if d.model == nil {
		return srvErrors.NewInvalidDocumentError(d.uri, errNotLoaded)
	}
	if err := api.WriteContextFile(d.model, path); err != nil {
		return srvErrors.NewIOError("save", path, err)
	}
	return nil
}

func (d *Document) PageCount() int { return len(d.pages) }

func (d *Document) PageSize(page int) (document.Size, error) {
	if page < 0 || page >= len(d.pages) {
		return document.Size{}, errPageRange
	}
	return d.pages[page], nil
}

// Render rasterizes one page. The surface always has the size given by
// rc.SurfaceSize.
func (d *Document) Render(rc document.RenderContext) (image.Image, error) {
	size, err := d.PageSize(rc.Page)
	if err != nil {
		return nil, err
	}
	w, h := rc.SurfaceSize(size)

	scale := rc.Scale
	if rc.HasTarget() {
		rotated := size.Rotated(rc.Rotation)
		scale = math.Max(float64(w)/rotated.Width, float64(h)/rotated.Height)
	}
	if scale <= 0 {
		scale = 1
	}

	img, err := d.raster.ImageDPI(rc.Page, 72*scale)
	if err != nil {
		return nil, err
	}
	out := rotate(img, rc.Rotation)
	if b := out.Bounds(); b.Dx() != w || b.Dy() != h {
		out = resample(out, w, h)
	}
	return out, nil
}

func (d *Document) Close() error {
	var err error
	if d.raster != nil {
		err = d.raster.Close()
		d.raster = nil
	}
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	if d.src != nil {
		d.src.cleanup()
		d.src = nil
	}
	d.abortExport()
	d.text = nil
	d.model = nil
	return err
}

// rotate turns img clockwise by r. img must have its origin at (0,0).
func rotate(img *image.RGBA, r document.Rotation) *image.RGBA {
	if r == document.Rotate0 {
		return img
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	var s2d f64.Aff3
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch r {
	case document.Rotate90:
		s2d = f64.Aff3{0, -1, h, 1, 0, 0}
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	case document.Rotate180:
		s2d = f64.Aff3{-1, 0, w, 0, -1, h}
	case document.Rotate270:
		s2d = f64.Aff3{0, 1, 0, -1, 0, w}
		dst = image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	default:
		return img
	}
	draw.NearestNeighbor.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

func resample(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

var (
	_ document.Factory         = &Engine{}
	_ document.Backend         = &Document{}
	_ document.LinkMapper      = &Document{}
	_ document.FormFieldMapper = &Document{}
	_ document.TextMapper      = &Document{}
	_ document.TextFinder      = &Document{}
	_ document.OutlineProvider = &Document{}
	_ document.FontScanner     = &Document{}
	_ document.FileExporter    = &Document{}
)
