package jobs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
)

// Kind identifies the operation a job performs.
type Kind string

const (
	KindLoad      Kind = "load"
	KindRender    Kind = "render"
	KindThumbnail Kind = "thumbnail"
	KindLinks     Kind = "links"
	KindFonts     Kind = "fonts"
	KindSave      Kind = "save"
	KindPrint     Kind = "print"
	KindFind      Kind = "find"
)

// State is the lifecycle state of a job.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateFinished
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCancelled
}

var (
	// ErrContinue is returned by a run-body that did a bounded slice of work
	// and wants to be queued again.
	ErrContinue = errors.New("job needs another run")
	// ErrDetached is returned by a run-body whose completion arrives later
	// from an engine callback.
	ErrDetached = errors.New("job completes asynchronously")
)

// Job is a deferred, cancellable, single-shot unit of work. Concrete kinds
// embed *Base and implement Run.
type Job interface {
	ID() string
	Kind() Kind
	Document() *document.Handle
	State() State
	Err() error
	Cancel()
	IsCancelled() bool
	Done() <-chan struct{}
	OnCompleted(fn func(Job))
	// Run is the kind-specific body. It is called through Execute only.
	Run(rc *RunContext) error

	core() *Base
}

// terminalObserver is implemented by kinds that must release resources of
// their own when a run ends, before completion is published.
type terminalObserver interface {
	terminated(state State)
}

// Base carries the state shared by all job kinds.
type Base struct {
	id   string
	kind Kind
	self Job

	mu         sync.Mutex
	doc        *document.Handle
	hasRef     bool
	err        error
	done       chan struct{}
	finishOnce *sync.Once
	dispatcher Dispatcher
	completed  []func(Job)
	hooks      []func(Job)
	startedAt  time.Time
	finishedAt time.Time

	state     atomic.Int32
	cancelled atomic.Bool
}

// NewBase creates the shared part of a job. self is the concrete job, used
// as the argument of completion callbacks.
func NewBase(kind Kind, doc *document.Handle, self Job) *Base {
	return &Base{
		id:         uuid.NewString(),
		kind:       kind,
		self:       self,
		doc:        doc,
		done:       make(chan struct{}),
		finishOnce: &sync.Once{},
	}
}

func (b *Base) core() *Base { return b }

func (b *Base) ID() string   { return b.id }
func (b *Base) Kind() Kind   { return b.kind }
func (b *Base) State() State { return State(b.state.Load()) }

func (b *Base) Document() *document.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc
}

func (b *Base) setDocument(h *document.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = h
}

// Err returns the terminal error. It is only meaningful after Done is closed.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Cancel sets the cancellation flag. The run-body observes it at its next
// checkpoint; a job that already left Running is not affected.
func (b *Base) Cancel() {
	if b.State().Terminal() {
		return
	}
	b.cancelled.Store(true)
}

func (b *Base) IsCancelled() bool { return b.cancelled.Load() }

func (b *Base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// OnCompleted registers a callback delivered through the dispatcher once the
// job reaches a terminal state.
func (b *Base) OnCompleted(fn func(Job)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, fn)
}

// Elapsed returns how long the last run took.
func (b *Base) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startedAt.IsZero() || b.finishedAt.IsZero() {
		return 0
	}
	return b.finishedAt.Sub(b.startedAt)
}

func (b *Base) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}

func (b *Base) FinishedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedAt
}

// Checkpoint returns a CancelledError when the job or its run context was
// cancelled. Run-bodies call it between engine calls.
func (b *Base) Checkpoint(rc *RunContext) error {
	if b.IsCancelled() {
		return srvErrors.NewCancelledError()
	}
	if rc != nil && rc.Context != nil && rc.Context.Err() != nil {
		b.cancelled.Store(true)
		return srvErrors.NewCancelledError()
	}
	return nil
}

// post delivers fn on the caller's loop. A job never bound to a dispatcher
// runs fn inline. A callback the dispatcher refuses is dropped: running it
// here could put it on the worker or on the scheduler loop.
func (b *Base) post(fn func()) {
	b.mu.Lock()
	d := b.dispatcher
	b.mu.Unlock()
	if d == nil {
		fn()
		return
	}
	if !d.Post(fn) {
		zap.S().Named("jobs").Warnw("dispatcher closed, callback dropped", "job", b.id, "kind", b.kind)
	}
}

// AddHook registers fn to run synchronously at the terminal transition. It is
// meant for schedulers that need to learn about completion on any goroutine.
func AddHook(j Job, fn func(Job)) {
	b := j.core()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, fn)
}

// Bind attaches j to the dispatcher that delivers its callbacks and takes a
// reference on its document for the duration of the job. Schedulers call it
// at submission. A nil dispatcher keeps the current one.
func Bind(j Job, d Dispatcher) error {
	b := j.core()
	b.mu.Lock()
	defer b.mu.Unlock()
	if d != nil {
		b.dispatcher = d
	}
	if b.doc == nil || b.hasRef {
		return nil
	}
	if err := b.doc.Ref(); err != nil {
		return err
	}
	b.hasRef = true
	return nil
}

// Execute runs one pass of j. It reports true when the job asked to be
// queued again (ErrContinue) and is back in Pending.
func Execute(j Job, rc *RunContext) bool {
	b := j.core()
	b.mu.Lock()
	if rc != nil && rc.Dispatcher != nil {
		b.dispatcher = rc.Dispatcher
	}
	b.mu.Unlock()

	if !b.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return false
	}
	if b.IsCancelled() {
		rc.ReleaseDocument()
		Finish(j, srvErrors.NewCancelledError())
		return false
	}

	b.mu.Lock()
	if b.startedAt.IsZero() {
		b.startedAt = time.Now()
	}
	b.mu.Unlock()

	err := runBody(j, rc)
	// Finish may drop the last document reference, which needs the lock.
	rc.ReleaseDocument()
	switch {
	case errors.Is(err, ErrDetached):
		return false
	case errors.Is(err, ErrContinue):
		if b.IsCancelled() {
			Finish(j, srvErrors.NewCancelledError())
			return false
		}
		b.state.Store(int32(StatePending))
		return true
	}
	Finish(j, err)
	return false
}

func runBody(j Job, rc *RunContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return j.Run(rc)
}

// Finish moves j to its terminal state exactly once per run and publishes
// the completion. A job whose cancellation flag is set ends Cancelled even
// when its body returned nil; the body's result is not published.
func Finish(j Job, err error) {
	b := j.core()
	b.mu.Lock()
	once := b.finishOnce
	b.mu.Unlock()

	once.Do(func() {
		state := StateFinished
		switch {
		case b.IsCancelled() || srvErrors.IsCancelledError(err):
			state = StateCancelled
			err = srvErrors.NewCancelledError()
		case err != nil:
			state = StateFailed
		}

		b.mu.Lock()
		b.err = err
		b.finishedAt = time.Now()
		done := b.done
		doc, hasRef := b.doc, b.hasRef
		b.hasRef = false
		callbacks := append([]func(Job){}, b.completed...)
		hooks := append([]func(Job){}, b.hooks...)
		b.mu.Unlock()

		if o, ok := b.self.(terminalObserver); ok {
			o.terminated(state)
		}

		b.state.Store(int32(state))
		close(done)

		if hasRef {
			if uerr := doc.Unref(); uerr != nil {
				zap.S().Named("jobs").Warnw("failed to release document", "job", b.id, "error", uerr)
			}
		}

		zap.S().Named("jobs").Debugw("job completed", "job", b.id, "kind", b.kind, "state", state.String(), "error", err)

		for _, h := range hooks {
			h(b.self)
		}
		for _, fn := range callbacks {
			fn := fn
			b.post(func() { fn(b.self) })
		}
	})
}

// rearm puts a terminal job back to Pending for another run. Only the load
// job uses it, to retry with a password on the same instance.
func (b *Base) rearm() bool {
	s := b.State()
	if !s.Terminal() {
		return s == StatePending
	}
	b.mu.Lock()
	b.err = nil
	b.done = make(chan struct{})
	b.finishOnce = &sync.Once{}
	b.startedAt = time.Time{}
	b.finishedAt = time.Time{}
	b.hooks = nil
	b.mu.Unlock()
	b.cancelled.Store(false)
	b.state.Store(int32(StatePending))
	return true
}
