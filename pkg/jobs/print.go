package jobs

import (
	"errors"
	"os"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// PageSet filters pages by 1-based parity.
type PageSet int

const (
	PageSetAll PageSet = iota
	PageSetEven
	PageSetOdd
)

// PageRange is an inclusive range of zero-based pages. End < 0 means up to
// the last page.
type PageRange struct {
	Start int
	End   int
}

// PageList expands ranges into the zero-based pages to print, in declaration
// order. Open and overflowing ends are clamped to the last page. No ranges
// means the whole document.
func PageList(ranges []PageRange, set PageSet, nPages int) []int {
	if nPages <= 0 {
		return nil
	}
	if len(ranges) == 0 {
		ranges = []PageRange{{Start: 0, End: -1}}
	}

	clamp := func(r PageRange) (int, int, bool) {
		start, end := max(r.Start, 0), r.End
		if end < 0 || end >= nPages {
			end = nPages - 1
		}
		return start, end, start <= end
	}
	match := func(page int) bool {
		switch set {
		case PageSetEven:
			return (page+1)%2 == 0
		case PageSetOdd:
			return (page+1)%2 == 1
		default:
			return true
		}
	}

	count := 0
	for _, r := range ranges {
		start, end, ok := clamp(r)
		if !ok {
			continue
		}
		for p := start; p <= end; p++ {
			if match(p) {
				count++
			}
		}
	}

	pages := make([]int, 0, count)
	for _, r := range ranges {
		start, end, ok := clamp(r)
		if !ok {
			continue
		}
		for p := start; p <= end; p++ {
			if match(p) {
				pages = append(pages, p)
			}
		}
	}
	return pages
}

// Sheets splits pages into sheets of pps pages, walking the list forward or,
// with reverse, from its last page back to its first. Collated output
// repeats the whole set once per copy; uncollated output repeats each sheet
// copies times in a row.
func Sheets(pages []int, pps, copies int, collate, reverse bool) [][]int {
	pps = max(pps, 1)
	copies = max(copies, 1)

	order := pages
	if reverse {
		order = make([]int, len(pages))
		for i, p := range pages {
			order[len(pages)-1-i] = p
		}
	}

	var sheets [][]int
	for i := 0; i < len(order); i += pps {
		end := min(i+pps, len(order))
		sheets = append(sheets, order[i:end:end])
	}

	out := make([][]int, 0, len(sheets)*copies)
	if collate {
		for range copies {
			out = append(out, sheets...)
		}
		return out
	}
	for _, s := range sheets {
		for range copies {
			out = append(out, s)
		}
	}
	return out
}

type PrintParams struct {
	Ranges        []PageRange
	Set           PageSet
	PagesPerSheet int
	Copies        int
	Collate       bool
	Reverse       bool
	// Width and Height give the sheet size in points. Zero uses the size of
	// the first printed page.
	Width  float64
	Height float64
	Format document.ExportFormat
	// OutputURI receives the export. Empty keeps it in a temp file whose
	// path is in the result.
	OutputURI string
}

type PrintResult struct {
	Path   string
	Pages  []int
	Sheets int
}

var ErrNothingToPrint = errors.New("no pages to print")

type PrintJob struct {
	*Base
	params PrintParams
	result PrintResult
}

func NewPrintJob(doc *document.Handle, params PrintParams) *PrintJob {
	if params.Format == "" {
		params.Format = document.ExportPDF
	}
	j := &PrintJob{params: params}
	j.Base = NewBase(KindPrint, doc, j)
	return j
}

func (j *PrintJob) Params() PrintParams { return j.params }

func (j *PrintJob) Result() *PrintResult { return &j.result }

func (j *PrintJob) Run(rc *RunContext) (err error) {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	backend := doc.Backend()
	exporter, ok := backend.(document.FileExporter)
	if !ok {
		return srvErrors.NewUnsupportedOperationError("print")
	}

	p := j.params
	pages := PageList(p.Ranges, p.Set, backend.PageCount())
	if len(pages) == 0 {
		return ErrNothingToPrint
	}
	sheets := Sheets(pages, p.PagesPerSheet, p.Copies, p.Collate, p.Reverse)

	width, height := p.Width, p.Height
	if width <= 0 || height <= 0 {
		size, err := backend.PageSize(pages[0])
		if err != nil {
			return err
		}
		width, height = size.Width, size.Height
	}

	tmp, err := createTemp(rc.tempDir(), "docjobs-print-*."+string(p.Format))
	if err != nil {
		return err
	}
	defer func() {
		if err != nil || j.params.OutputURI != "" {
			_ = os.Remove(tmp)
		}
	}()

	err = exporter.ExportBegin(document.ExportContext{
		Path:          tmp,
		Format:        p.Format,
		PagesPerSheet: max(p.PagesPerSheet, 1),
		Sheets:        len(sheets),
		Width:         width,
		Height:        height,
	})
	if err != nil {
		return err
	}
	if err := j.emit(rc, exporter, sheets); err != nil {
		_ = exporter.ExportEnd()
		return err
	}
	if err := exporter.ExportEnd(); err != nil {
		return err
	}
	rc.ReleaseDocument()

	j.result.Pages = pages
	j.result.Sheets = len(sheets)
	j.result.Path = tmp
	if p.OutputURI == "" {
		return nil
	}

	dest, err := document.LocalPath(p.OutputURI)
	if err != nil {
		return srvErrors.NewIOError("print", p.OutputURI, err)
	}
	if err := transfer(tmp, dest); err != nil {
		return err
	}
	j.result.Path = dest
	return nil
}

func (j *PrintJob) emit(rc *RunContext, exporter document.FileExporter, sheets [][]int) error {
	for _, sheet := range sheets {
		if err := j.Checkpoint(rc); err != nil {
			return err
		}
		if err := exporter.ExportBeginPage(); err != nil {
			return err
		}
		for _, page := range sheet {
			if err := exporter.ExportDrawPage(page); err != nil {
				return err
			}
		}
		if err := exporter.ExportEndPage(); err != nil {
			return err
		}
	}
	return nil
}
