package jobs

import (
	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

type FindParams struct {
	Text          string
	CaseSensitive bool
	StartPage     int
}

// PageMatches are the match boxes of one page.
type PageMatches struct {
	Page  int
	Rects []document.Rect
}

type FindResult struct {
	// Matches is indexed by page.
	Matches [][]document.Rect
	start   int
}

// Ordered returns every page in scan order, starting at the start page and
// wrapping around.
func (r *FindResult) Ordered() []PageMatches {
	n := len(r.Matches)
	out := make([]PageMatches, 0, n)
	for i := range n {
		page := (r.start + i) % n
		out = append(out, PageMatches{Page: page, Rects: r.Matches[page]})
	}
	return out
}

func (r *FindResult) TotalMatches() int {
	total := 0
	for _, m := range r.Matches {
		total += len(m)
	}
	return total
}

// FirstMatchPage returns the first page with a match in scan order, or -1.
func (r *FindResult) FirstMatchPage() int {
	for _, pm := range r.Ordered() {
		if len(pm.Rects) > 0 {
			return pm.Page
		}
	}
	return -1
}

type FindJob struct {
	*Base
	params  FindParams
	result  FindResult
	scanned []func(j *FindJob, page int, rects []document.Rect)
}

func NewFindJob(doc *document.Handle, params FindParams) *FindJob {
	j := &FindJob{params: params}
	j.Base = NewBase(KindFind, doc, j)
	return j
}

func (j *FindJob) Params() FindParams { return j.params }

func (j *FindJob) Result() *FindResult { return &j.result }

// OnPageScanned registers a progress callback fired after each page.
func (j *FindJob) OnPageScanned(fn func(j *FindJob, page int, rects []document.Rect)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scanned = append(j.scanned, fn)
}

func (j *FindJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	backend := doc.Backend()
	finder, ok := backend.(document.TextFinder)
	if !ok {
		return srvErrors.NewUnsupportedOperationError("find")
	}

	n := backend.PageCount()
	start := j.params.StartPage
	if start < 0 || start >= n {
		start = 0
	}
	matches := make([][]document.Rect, n)

	j.mu.Lock()
	listeners := append([]func(*FindJob, int, []document.Rect){}, j.scanned...)
	j.mu.Unlock()

	for i := range n {
		if err := j.Checkpoint(rc); err != nil {
			return err
		}
		page := (start + i) % n

		var rects []document.Rect
		err := rc.WithFontCache(func() error {
			var err error
			rects, err = finder.FindText(page, j.params.Text, j.params.CaseSensitive)
			return err
		})
		if err != nil {
			return err
		}
		matches[page] = rects

		for _, fn := range listeners {
			fn := fn
			found := append([]document.Rect(nil), rects...)
			j.post(func() { fn(j, page, found) })
		}
	}

	j.result = FindResult{Matches: matches, start: start}
	return nil
}
