package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
	"github.com/tupyy/docjobs/pkg/eventloop"
	"github.com/tupyy/docjobs/pkg/jobs"
)

type reprioritizeRequest struct {
	job      jobs.Job
	priority Priority
}

type workResult struct {
	entry   *entry
	requeue bool
}

type Scheduler struct {
	log        *zap.SugaredLogger
	nbWorkers  int
	dispatcher jobs.Dispatcher
	loop       *eventloop.Loop
	locks      *document.Locks
	factory    document.Factory
	tempDir    string

	// owned by run
	free    int
	queue   queue
	pending map[string]*entry
	running map[string]*entry
	busy    map[*document.Handle]struct{}
	seq     uint64
	stats   Stats

	submit       chan *entry
	reprioritize chan reprioritizeRequest
	cancel       chan jobs.Job
	statsReq     chan chan Stats
	done         chan workResult
	close        chan any
	exited       chan any

	mainCtx    context.Context
	mainCancel context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

// New starts a scheduler. By default it has one worker, which serializes
// every job, and delivers callbacks through its own event loop (see Loop).
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		nbWorkers:    1,
		pending:      make(map[string]*entry),
		running:      make(map[string]*entry),
		busy:         make(map[*document.Handle]struct{}),
		submit:       make(chan *entry),
		reprioritize: make(chan reprioritizeRequest),
		cancel:       make(chan jobs.Job),
		statsReq:     make(chan chan Stats),
		close:        make(chan any),
		exited:       make(chan any),
		mainCtx:      ctx,
		mainCancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.S().Named("scheduler")
	}
	if s.locks == nil {
		s.locks = document.NewLocks()
	}
	if s.dispatcher == nil {
		s.loop = eventloop.New()
		s.dispatcher = s.loop
	}
	s.free = s.nbWorkers
	s.stats.Workers = s.nbWorkers
	// workers never block on reporting back, even during Close
	s.done = make(chan workResult, s.nbWorkers)

	go s.run()
	return s
}

// Loop returns the scheduler's own event loop, or nil when a dispatcher was
// supplied with WithDispatcher.
func (s *Scheduler) Loop() *eventloop.Loop { return s.loop }

func (s *Scheduler) Locks() *document.Locks { return s.locks }

// Submit queues job at priority. The token receives exactly one completion.
// A job submitted after Close completes Cancelled without running.
func (s *Scheduler) Submit(job jobs.Job, priority Priority) *Token {
	tok := newToken(job, s)

	if st := job.State(); st != jobs.StatePending {
		if st.Terminal() {
			tok.complete(job)
		} else {
			tok.c <- Completion{Job: job, State: st, Err: ErrNotPending}
		}
		return tok
	}

	jobs.AddHook(job, tok.complete)
	if err := jobs.Bind(job, s.dispatcher); err != nil {
		jobs.Finish(job, err)
		return tok
	}

	select {
	case <-s.mainCtx.Done():
		// we're closing here so the job ends cancelled
		job.Cancel()
		jobs.Finish(job, srvErrors.NewCancelledError())
	case s.submit <- &entry{job: job, priority: priority, index: -1}:
	}
	return tok
}

// Reprioritize changes the priority of a queued job. Running and terminal
// jobs are not affected.
func (s *Scheduler) Reprioritize(job jobs.Job, priority Priority) {
	select {
	case <-s.mainCtx.Done():
	case s.reprioritize <- reprioritizeRequest{job: job, priority: priority}:
	}
}

// Cancel sets the job's cancellation flag. A job still queued is removed and
// completes Cancelled right away; a running job stops at its next checkpoint.
func (s *Scheduler) Cancel(job jobs.Job) {
	job.Cancel()
	select {
	case <-s.mainCtx.Done():
	case s.cancel <- job:
	}
}

func (s *Scheduler) Stats() Stats {
	c := make(chan Stats, 1)
	select {
	case <-s.exited:
		return Stats{Workers: s.nbWorkers}
	case s.statsReq <- c:
	}
	return <-c
}

// Close cancels queued jobs and waits for running ones. It is idempotent.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mainCancel()
		s.close <- struct{}{}
		<-s.exited
	})
}

func (s *Scheduler) run() {
	defer close(s.exited)
	for {
		select {
		case e := <-s.submit:
			s.enqueue(e)
			s.dispatch()
		case r := <-s.reprioritize:
			if e, ok := s.pending[r.job.ID()]; ok {
				e.priority = r.priority
				s.queue.fix(e)
				s.log.Debugw("job reprioritized", "job", e.job.ID(), "priority", r.priority.String())
			}
		case job := <-s.cancel:
			if e, ok := s.pending[job.ID()]; ok {
				s.queue.remove(e)
				delete(s.pending, job.ID())
				jobs.Finish(job, srvErrors.NewCancelledError())
				s.stats.Completed++
			}
		case c := <-s.statsReq:
			st := s.stats
			st.Pending = len(s.pending)
			st.Running = len(s.running)
			c <- st
		case r := <-s.done:
			s.release(r)
			s.dispatch()
		case <-s.close:
			s.shutdown()
			return
		}
	}
}

func (s *Scheduler) enqueue(e *entry) {
	if existing, ok := s.pending[e.job.ID()]; ok {
		// already queued: keep one entry, at the higher priority
		if e.priority > existing.priority {
			existing.priority = e.priority
			s.queue.fix(existing)
		}
		return
	}
	s.seq++
	e.seq = s.seq
	s.pending[e.job.ID()] = e
	s.queue.push(e)
	s.stats.Submitted++
	s.log.Debugw("job queued", "job", e.job.ID(), "kind", e.job.Kind(), "priority", e.priority.String())
}

func (s *Scheduler) release(r workResult) {
	s.free++
	e := r.entry
	delete(s.running, e.job.ID())
	if e.doc != nil {
		delete(s.busy, e.doc)
	}
	if !r.requeue {
		// detached jobs are still running in the engine
		if e.job.State().Terminal() {
			s.stats.Completed++
		}
		return
	}
	s.stats.Requeued++
	s.seq++
	e.seq = s.seq
	e.doc = nil
	s.pending[e.job.ID()] = e
	s.queue.push(e)
}

// dispatch pairs free workers with the highest-priority jobs whose document
// is not already in use.
func (s *Scheduler) dispatch() {
	for s.free > 0 && s.queue.Len() > 0 {
		e := s.queue.popRunnable(func(e *entry) bool {
			doc := e.job.Document()
			if doc == nil {
				return true
			}
			_, busy := s.busy[doc]
			return !busy
		})
		if e == nil {
			return
		}
		delete(s.pending, e.job.ID())
		e.doc = e.job.Document()
		if e.doc != nil {
			s.busy[e.doc] = struct{}{}
		}
		s.running[e.job.ID()] = e
		s.free--
		s.wg.Add(1)
		go s.work(e)
	}
}

func (s *Scheduler) work(e *entry) {
	requeue := false
	defer func() {
		if rec := recover(); rec != nil {
			jobs.Finish(e.job, fmt.Errorf("worker panicked: %v", rec))
			requeue = false
		}
		s.done <- workResult{entry: e, requeue: requeue}
		s.wg.Done()
	}()

	rc := &jobs.RunContext{
		Context:    s.mainCtx,
		Locks:      s.locks,
		Factory:    s.factory,
		Dispatcher: s.dispatcher,
		TempDir:    s.tempDir,
	}
	rc.LockDocument(e.doc)
	defer rc.ReleaseDocument()

	s.log.Debugw("job started", "job", e.job.ID(), "kind", e.job.Kind())
	requeue = jobs.Execute(e.job, rc)
	if !requeue {
		s.log.Debugw("job left worker", "job", e.job.ID(), "kind", e.job.Kind(), "state", e.job.State().String())
	}
}

func (s *Scheduler) shutdown() {
	for s.queue.Len() > 0 {
		e := s.queue.popRunnable(func(*entry) bool { return true })
		delete(s.pending, e.job.ID())
		e.job.Cancel()
		jobs.Finish(e.job, srvErrors.NewCancelledError())
	}

	s.wg.Wait()

	// jobs that asked to continue while we were closing
	for {
		select {
		case r := <-s.done:
			if r.requeue {
				r.entry.job.Cancel()
				jobs.Finish(r.entry.job, srvErrors.NewCancelledError())
			}
		default:
			s.log.Debugw("scheduler closed", "submitted", s.stats.Submitted, "completed", s.stats.Completed)
			return
		}
	}
}
