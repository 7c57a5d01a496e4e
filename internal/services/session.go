package services

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tupyy/docjobs/internal/models"
	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
	"github.com/tupyy/docjobs/pkg/jobs"
	"github.com/tupyy/docjobs/pkg/scheduler"
)

// ErrNoDocument is returned by Session methods called before Open.
var ErrNoDocument = errors.New("no document open")

// Recorder stores the history of terminal jobs.
type Recorder interface {
	Record(ctx context.Context, r models.JobRecord) error
}

// Session is the caller side of one open document. Each method submits a job
// at the priority that fits its use and waits for it. Cancelling the context
// cancels the job.
type Session struct {
	log        *zap.SugaredLogger
	sched      *scheduler.Scheduler
	history    Recorder
	fontsBatch int

	mu  sync.Mutex
	doc *document.Handle
	// load job that stopped on a password, reused by the next Open of the same URI
	retry *jobs.LoadJob
}

type SessionOption func(*Session)

func WithHistory(r Recorder) SessionOption {
	return func(s *Session) {
		s.history = r
	}
}

func WithFontsBatchSize(n int) SessionOption {
	return func(s *Session) {
		s.fontsBatch = n
	}
}

func NewSession(sched *scheduler.Scheduler, opts ...SessionOption) *Session {
	s := &Session{
		log:        zap.S().Named("session"),
		sched:      sched,
		fontsBatch: jobs.DefaultFontsBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start submits job without waiting. The future receives its completion;
// Stop cancels it.
func (s *Session) Start(job jobs.Job, priority scheduler.Priority) *models.Future[scheduler.Completion] {
	tok := s.sched.Submit(job, priority)
	return models.NewFuture(tok.C(), tok.Stop)
}

// Open loads the document at uri and makes it the session document. After
// an EncryptedDocumentError, calling Open again for the same uri reruns the
// same load job with the new password.
func (s *Session) Open(ctx context.Context, uri, password string) error {
	s.mu.Lock()
	job := s.retry
	s.retry = nil
	s.mu.Unlock()

	if job != nil && job.Params().URI == uri {
		job.SetPassword(password)
	} else {
		job = jobs.NewLoadJob(jobs.LoadParams{URI: uri, Password: password})
	}

	if err := s.wait(ctx, job, scheduler.PriorityUrgent); err != nil {
		if srvErrors.IsEncryptedDocumentError(err) {
			s.mu.Lock()
			s.retry = job
			s.mu.Unlock()
		}
		return err
	}

	s.mu.Lock()
	old := s.doc
	s.doc = job.Handle()
	s.mu.Unlock()
	if old != nil {
		_ = old.Unref()
	}

	s.log.Infow("document opened", "uri", uri, "pages", job.Handle().PageCount())
	return nil
}

// Document returns the session document, or nil before Open.
func (s *Session) Document() *document.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *Session) document() (*document.Handle, error) {
	if doc := s.Document(); doc != nil {
		return doc, nil
	}
	return nil, ErrNoDocument
}

// Render draws one page for display.
func (s *Session) Render(ctx context.Context, params jobs.RenderParams) (*jobs.RenderResult, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewRenderJob(doc, params)
	if err := s.wait(ctx, job, scheduler.PriorityUrgent); err != nil {
		return nil, err
	}
	return job.Result(), nil
}

func (s *Session) Thumbnail(ctx context.Context, params jobs.ThumbnailParams) (*image.RGBA, error) {
	return s.thumbnail(ctx, params, scheduler.PriorityHigh)
}

func (s *Session) thumbnail(ctx context.Context, params jobs.ThumbnailParams, priority scheduler.Priority) (*image.RGBA, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewThumbnailJob(doc, params)
	if err := s.wait(ctx, job, priority); err != nil {
		return nil, err
	}
	return job.Result().Surface, nil
}

// Thumbnails renders every page at scale, at low priority so that renders
// for display go first. The first failure cancels the remaining pages.
func (s *Session) Thumbnails(ctx context.Context, scale float64, border bool) ([]*image.RGBA, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}

	thumbs := make([]*image.RGBA, doc.PageCount())
	g, gctx := errgroup.WithContext(ctx)
	for page := range thumbs {
		g.Go(func() error {
			img, err := s.thumbnail(gctx, jobs.ThumbnailParams{Page: page, Scale: scale, Border: border}, scheduler.PriorityLow)
			if err != nil {
				return err
			}
			thumbs[page] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return thumbs, nil
}

func (s *Session) Outline(ctx context.Context) ([]document.OutlineItem, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewLinksJob(doc)
	if err := s.wait(ctx, job, scheduler.PriorityLow); err != nil {
		return nil, err
	}
	return job.Result().Outline, nil
}

// Fonts scans the document's fonts in batches. progress, when set, is
// called on the scheduler's dispatcher after each batch.
func (s *Session) Fonts(ctx context.Context, progress func(float64)) (*jobs.FontsResult, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewFontsJob(doc, s.fontsBatch)
	if progress != nil {
		job.OnProgress(func(_ *jobs.FontsJob, fraction float64) { progress(fraction) })
	}
	if err := s.wait(ctx, job, scheduler.PriorityNone); err != nil {
		return nil, err
	}
	return job.Result(), nil
}

func (s *Session) Find(ctx context.Context, params jobs.FindParams) (*jobs.FindResult, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewFindJob(doc, params)
	if err := s.wait(ctx, job, scheduler.PriorityHigh); err != nil {
		return nil, err
	}
	return job.Result(), nil
}

// Save writes the document to dest. A gzip-compressed original is saved
// compressed.
func (s *Session) Save(ctx context.Context, dest string) (*jobs.SaveResult, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewSaveJob(doc, jobs.SaveParams{DestURI: dest, OriginalURI: doc.URI()})
	if err := s.wait(ctx, job, scheduler.PriorityUrgent); err != nil {
		return nil, err
	}
	return job.Result(), nil
}

func (s *Session) Print(ctx context.Context, params jobs.PrintParams) (*jobs.PrintResult, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	job := jobs.NewPrintJob(doc, params)
	if err := s.wait(ctx, job, scheduler.PriorityHigh); err != nil {
		return nil, err
	}
	return job.Result(), nil
}

// Close drops the session's reference on its document.
func (s *Session) Close() error {
	s.mu.Lock()
	doc := s.doc
	s.doc = nil
	s.retry = nil
	s.mu.Unlock()
	if doc == nil {
		return nil
	}
	return doc.Unref()
}

// wait submits job and blocks until it completes. When ctx ends first the
// job is cancelled and its completion is still awaited, so that nothing of
// it outlives the call.
func (s *Session) wait(ctx context.Context, job jobs.Job, priority scheduler.Priority) error {
	f := s.Start(job, priority)

	var c scheduler.Completion
	select {
	case c = <-f.C():
	case <-ctx.Done():
		f.Stop()
		c = <-f.C()
	}
	s.record(context.WithoutCancel(ctx), job, c, priority)

	if c.State == jobs.StateCancelled && ctx.Err() != nil {
		return errors.Join(c.Err, ctx.Err())
	}
	return c.Err
}

type timed interface {
	StartedAt() time.Time
	FinishedAt() time.Time
}

func (s *Session) record(ctx context.Context, job jobs.Job, c scheduler.Completion, priority scheduler.Priority) {
	if s.history == nil || !c.State.Terminal() {
		return
	}

	r := models.JobRecord{
		ID:          job.ID(),
		Kind:        string(job.Kind()),
		State:       models.JobState(c.State.String()),
		Error:       srvErrors.UserMessage(c.Err),
		DocumentURI: documentURI(job),
		Priority:    priority.String(),
	}
	if t, ok := job.(timed); ok {
		r.StartedAt = t.StartedAt()
		r.FinishedAt = t.FinishedAt()
	}

	if err := s.history.Record(ctx, r); err != nil {
		s.log.Warnw("failed to record job", "job", r.ID, "error", err)
	}
}

func documentURI(job jobs.Job) string {
	if load, ok := job.(*jobs.LoadJob); ok {
		return load.Params().URI
	}
	if doc := job.Document(); doc != nil {
		return doc.URI()
	}
	return ""
}
