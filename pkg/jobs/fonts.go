package jobs

import (
	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
)

const DefaultFontsBatchSize = 20

type FontsResult struct {
	Fonts     []document.FontInfo
	Completed bool
}

// FontsJob scans fonts a batch of pages at a time and asks to be queued
// again between batches, so other jobs on the document can run.
type FontsJob struct {
	*Base
	batchSize int
	next      int
	seen      map[document.FontInfo]struct{}
	result    FontsResult
	progress  []func(j *FontsJob, fraction float64)
}

func NewFontsJob(doc *document.Handle, batchSize int) *FontsJob {
	if batchSize <= 0 {
		batchSize = DefaultFontsBatchSize
	}
	j := &FontsJob{
		batchSize: batchSize,
		seen:      make(map[document.FontInfo]struct{}),
	}
	j.Base = NewBase(KindFonts, doc, j)
	return j
}

func (j *FontsJob) Result() *FontsResult { return &j.result }

// OnProgress registers a callback receiving the scanned fraction after each
// batch.
func (j *FontsJob) OnProgress(fn func(j *FontsJob, fraction float64)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = append(j.progress, fn)
}

func (j *FontsJob) Run(rc *RunContext) error {
	if err := j.Checkpoint(rc); err != nil {
		return err
	}
	doc := j.Document()
	if doc == nil {
		return errNoDocument
	}
	backend := doc.Backend()
	scanner, ok := backend.(document.FontScanner)
	n := backend.PageCount()
	if !ok || j.next >= n {
		j.result.Completed = true
		return nil
	}

	end := min(j.next+j.batchSize, n)
	for page := j.next; page < end; page++ {
		if err := j.Checkpoint(rc); err != nil {
			return err
		}
		var fonts []document.FontInfo
		err := rc.WithFontCache(func() error {
			var err error
			fonts, err = scanner.PageFonts(page)
			return err
		})
		if err != nil {
			zap.S().Named("jobs").Warnw("failed to scan page fonts", "job", j.ID(), "page", page, "error", err)
			continue
		}
		for _, f := range fonts {
			if _, dup := j.seen[f]; dup {
				continue
			}
			j.seen[f] = struct{}{}
			j.result.Fonts = append(j.result.Fonts, f)
		}
	}
	j.next = end

	fraction := float64(end) / float64(n)
	j.mu.Lock()
	listeners := append([]func(*FontsJob, float64){}, j.progress...)
	j.mu.Unlock()
	for _, fn := range listeners {
		fn := fn
		j.post(func() { fn(j, fraction) })
	}

	if end < n {
		return ErrContinue
	}
	j.result.Completed = true
	return nil
}
