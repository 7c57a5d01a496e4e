package scheduler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
	"github.com/tupyy/docjobs/pkg/jobs"
)

// Priority orders queued jobs. Higher values run first.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority is the inverse of Priority.String.
func ParsePriority(s string) (Priority, error) {
	for p := PriorityNone; p <= PriorityUrgent; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return PriorityNone, fmt.Errorf("unknown priority %q", s)
}

// ErrNotPending is the completion error of a job submitted while it was
// already queued or running elsewhere.
var ErrNotPending = errors.New("job is not pending")

// Completion is the single value sent on a Token channel.
type Completion struct {
	Job   jobs.Job
	State jobs.State
	Err   error
}

// Token is the caller's handle on a submitted job.
type Token struct {
	job jobs.Job
	c   chan Completion
	s   *Scheduler
}

func newToken(job jobs.Job, s *Scheduler) *Token {
	return &Token{job: job, c: make(chan Completion, 1), s: s}
}

func (t *Token) ID() string { return t.job.ID() }

func (t *Token) Job() jobs.Job { return t.job }

// C receives exactly one Completion.
func (t *Token) C() <-chan Completion { return t.c }

// Stop cancels the job.
func (t *Token) Stop() { t.s.Cancel(t.job) }

func (t *Token) complete(j jobs.Job) {
	select {
	case t.c <- Completion{Job: j, State: j.State(), Err: j.Err()}:
	default:
	}
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Workers   int
	Pending   int
	Running   int
	Submitted uint64
	Completed uint64
	Requeued  uint64
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.nbWorkers = n
		}
	}
}

// WithDispatcher delivers job callbacks through d instead of the
// scheduler's own event loop.
func WithDispatcher(d jobs.Dispatcher) Option {
	return func(s *Scheduler) {
		s.dispatcher = d
	}
}

func WithLocks(l *document.Locks) Option {
	return func(s *Scheduler) {
		s.locks = l
	}
}

func WithFactory(f document.Factory) Option {
	return func(s *Scheduler) {
		s.factory = f
	}
}

func WithTempDir(dir string) Option {
	return func(s *Scheduler) {
		s.tempDir = dir
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}
