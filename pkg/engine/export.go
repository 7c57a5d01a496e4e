package engine

import (
	"archive/zip"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/image/draw"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

var errNoExport = errors.New("no export in progress")

// exportState is an export between ExportBegin and ExportEnd. Sheets are
// composed in memory and spooled as PNG files.
type exportState struct {
	ec         document.ExportContext
	dir        string
	sheets     []string
	cols, rows int
	sheet      *image.RGBA
	slot       int
}

func (d *Document) ExportBegin(ec document.ExportContext) error {
	d.abortExport()
	if ec.Format != document.ExportPDF && ec.Format != document.ExportPNG {
		return srvErrors.NewUnsupportedOperationError("export " + string(ec.Format))
	}
	dir, err := os.MkdirTemp(d.engine.tempDir, "docjobs-export-*")
	if err != nil {
		return srvErrors.NewIOError("create temp", d.engine.tempDir, err)
	}
	cols, rows := grid(ec.PagesPerSheet, ec.Width > ec.Height)
	d.export = &exportState{ec: ec, dir: dir, cols: cols, rows: rows}
	return nil
}

func (d *Document) ExportBeginPage() error {
	if d.export == nil {
		return errNoExport
	}
	scale := d.engine.exportDPI / 72
	w := max(int(math.Round(d.export.ec.Width*scale)), 1)
	h := max(int(math.Round(d.export.ec.Height*scale)), 1)
	d.export.sheet = image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(d.export.sheet, d.export.sheet.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	d.export.slot = 0
	return nil
}

// ExportDrawPage renders page into the next free cell of the sheet, scaled
// to fit and centered.
func (d *Document) ExportDrawPage(page int) error {
	x := d.export
	if x == nil || x.sheet == nil {
		return errNoExport
	}
	if x.slot >= x.cols*x.rows {
		return fmt.Errorf("sheet is full: %d pages per sheet", x.cols*x.rows)
	}
	size, err := d.PageSize(page)
	if err != nil {
		return err
	}

	cell := cellRect(x.sheet.Bounds(), x.cols, x.rows, x.slot)
	x.slot++
	scale := math.Min(float64(cell.Dx())/size.Width, float64(cell.Dy())/size.Height)
	img, err := d.Render(document.RenderContext{Page: page, Scale: scale})
	if err != nil {
		return err
	}

	b := img.Bounds()
	off := image.Pt(cell.Min.X+(cell.Dx()-b.Dx())/2, cell.Min.Y+(cell.Dy()-b.Dy())/2)
	draw.Draw(x.sheet, image.Rectangle{Min: off, Max: off.Add(b.Size())}, img, b.Min, draw.Over)
	return nil
}

func (d *Document) ExportEndPage() error {
	x := d.export
	if x == nil || x.sheet == nil {
		return errNoExport
	}
	name := filepath.Join(x.dir, fmt.Sprintf("sheet-%04d.png", len(x.sheets)+1))
	if err := writePNG(name, x.sheet); err != nil {
		return err
	}
	x.sheets = append(x.sheets, name)
	x.sheet = nil
	return nil
}

// ExportEnd assembles the spooled sheets into the output file: a PDF with
// one image page per sheet, or a zip of PNG sheets.
func (d *Document) ExportEnd() error {
	x := d.export
	if x == nil {
		return errNoExport
	}
	defer d.abortExport()

	switch x.ec.Format {
	case document.ExportPDF:
		// pdfcpu appends to an existing output file
		_ = os.Remove(x.ec.Path)
		if err := api.ImportImagesFile(x.sheets, x.ec.Path, nil, nil); err != nil {
			return srvErrors.NewIOError("export", x.ec.Path, err)
		}
	case document.ExportPNG:
		if err := zipFiles(x.ec.Path, x.sheets); err != nil {
			return err
		}
	}
	d.engine.log.Debugw("export written", "path", x.ec.Path, "format", x.ec.Format, "sheets", len(x.sheets))
	return nil
}

func (d *Document) abortExport() {
	if d.export != nil {
		_ = os.RemoveAll(d.export.dir)
		d.export = nil
	}
}

// grid returns the columns and rows used to lay out n pages on a sheet.
// Portrait sheets favor rows, landscape sheets favor columns.
func grid(n int, landscape bool) (cols, rows int) {
	if n < 1 {
		n = 1
	}
	major := int(math.Ceil(math.Sqrt(float64(n))))
	minor := (n + major - 1) / major
	if landscape {
		return major, minor
	}
	return minor, major
}

// cellRect returns the bounds of cell i, row-major.
func cellRect(sheet image.Rectangle, cols, rows, i int) image.Rectangle {
	w, h := sheet.Dx()/cols, sheet.Dy()/rows
	c, r := i%cols, i/cols
	origin := sheet.Min.Add(image.Pt(c*w, r*h))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return srvErrors.NewIOError("create", path, err)
	}
	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return srvErrors.NewIOError("write", path, err)
	}
	return nil
}

func zipFiles(dest string, files []string) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return srvErrors.NewIOError("create", dest, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = srvErrors.NewIOError("close", dest, cerr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addToZip(zw, name); err != nil {
			return srvErrors.NewIOError("export", dest, err)
		}
	}
	if err := zw.Close(); err != nil {
		return srvErrors.NewIOError("export", dest, err)
	}
	return nil
}

func addToZip(zw *zip.Writer, name string) error {
	in, err := os.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := zw.Create(filepath.Base(name))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
