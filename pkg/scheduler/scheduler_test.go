package scheduler_test

import (
	"runtime"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tupyy/docjobs/pkg/document"
	srvErrors "github.com/tupyy/docjobs/pkg/errors"
	"github.com/tupyy/docjobs/pkg/jobs"
	"github.com/tupyy/docjobs/pkg/scheduler"
	"github.com/tupyy/docjobs/test"
)

// gate blocks renders of page 0 until opened.
type gate struct {
	started chan struct{}
	open    chan struct{}
	once    atomic.Bool
}

func newGate(engine *test.FakeEngine) *gate {
	g := &gate{started: make(chan struct{}), open: make(chan struct{})}
	engine.RenderHook = func(page int) {
		if page != 0 {
			return
		}
		if g.once.CompareAndSwap(false, true) {
			close(g.started)
		}
		<-g.open
	}
	return g
}

func render(h *document.Handle, page int) *jobs.RenderJob {
	return jobs.NewRenderJob(h, jobs.RenderParams{Page: page, Scale: 0.1})
}

var _ = Describe("Scheduler", func() {
	var (
		s      *scheduler.Scheduler
		engine *test.FakeEngine
		h      *document.Handle
	)

	BeforeEach(func() {
		engine = test.NewFakeEngine(10)
		h = engine.NewHandle("file:///doc.pdf")
	})

	AfterEach(func() {
		if s != nil {
			s.Close()
		}
	})

	Describe("Submit", func() {
		It("should run the job and deliver exactly one completion", func() {
			s = scheduler.New(scheduler.WithFactory(engine))
			j := render(h, 1)

			tok := s.Submit(j, scheduler.PriorityHigh)

			var c scheduler.Completion
			Eventually(tok.C(), 2*time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFinished))
			Expect(c.Job).To(BeIdenticalTo(j))
			Expect(tok.ID()).To(Equal(j.ID()))
			Consistently(tok.C(), 100*time.Millisecond).ShouldNot(Receive())
		})

		It("should deliver OnCompleted on the scheduler loop", func() {
			s = scheduler.New()
			j := render(h, 1)
			var called atomic.Int32
			j.OnCompleted(func(jobs.Job) { called.Add(1) })

			tok := s.Submit(j, scheduler.PriorityLow)
			Eventually(tok.C(), 2*time.Second).Should(Receive())
			Expect(called.Load()).To(BeZero())

			Eventually(func() int32 {
				s.Loop().RunPending()
				return called.Load()
			}, time.Second).Should(Equal(int32(1)))
		})

		It("should load documents through the factory", func() {
			s = scheduler.New(scheduler.WithFactory(engine))
			j := jobs.NewLoadJob(jobs.LoadParams{URI: "file:///new.pdf"})

			tok := s.Submit(j, scheduler.PriorityUrgent)

			var c scheduler.Completion
			Eventually(tok.C(), 2*time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFinished))
			Expect(j.Handle().Backend().PageCount()).To(Equal(10))
		})

		It("should finish detached renders from the engine callback", func() {
			engine.Async = true
			s = scheduler.New()
			j := render(engine.NewHandle("file:///async.pdf"), 2)

			tok := s.Submit(j, scheduler.PriorityHigh)

			var c scheduler.Completion
			Eventually(tok.C(), 2*time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFinished))
			Expect(j.Result().Surface).NotTo(BeNil())
		})

		It("should fail a job whose document was released", func() {
			s = scheduler.New()
			Expect(h.Unref()).To(Succeed())

			tok := s.Submit(render(h, 0), scheduler.PriorityHigh)

			var c scheduler.Completion
			Eventually(tok.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFailed))
			Expect(c.Err).To(MatchError(document.ErrReleased))
		})

		It("should reject a job that is already running", func() {
			g := newGate(engine)
			s = scheduler.New()
			j := render(h, 0)
			first := s.Submit(j, scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			second := s.Submit(j, scheduler.PriorityHigh)

			var c scheduler.Completion
			Eventually(second.C(), time.Second).Should(Receive(&c))
			Expect(c.Err).To(MatchError(scheduler.ErrNotPending))
			close(g.open)
			Eventually(first.C(), time.Second).Should(Receive())
		})
	})

	Describe("Priority", func() {
		// Given a busy worker and jobs queued at mixed priorities
		// When the worker frees up
		// Then jobs run by priority, FIFO inside a priority
		It("should dispatch by priority then submission order", func() {
			// Arrange
			g := newGate(engine)
			s = scheduler.New()
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			// Act
			toks := []*scheduler.Token{
				s.Submit(render(h, 1), scheduler.PriorityLow),
				s.Submit(render(h, 2), scheduler.PriorityUrgent),
				s.Submit(render(h, 3), scheduler.PriorityHigh),
				s.Submit(render(h, 4), scheduler.PriorityLow),
				s.Submit(render(h, 5), scheduler.PriorityNone),
				s.Submit(render(h, 6), scheduler.PriorityUrgent),
			}
			close(g.open)

			// Assert
			Eventually(blocker.C(), time.Second).Should(Receive())
			for _, tok := range toks {
				Eventually(tok.C(), time.Second).Should(Receive())
			}
			Expect(engine.Rendered()).To(Equal([]int{0, 2, 6, 3, 1, 4, 5}))
		})

		It("should move a pending job when it is reprioritized", func() {
			g := newGate(engine)
			s = scheduler.New()
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			a := s.Submit(render(h, 1), scheduler.PriorityLow)
			b := s.Submit(render(h, 2), scheduler.PriorityLow)
			s.Reprioritize(b.Job(), scheduler.PriorityUrgent)
			close(g.open)

			for _, tok := range []*scheduler.Token{blocker, a, b} {
				Eventually(tok.C(), time.Second).Should(Receive())
			}
			Expect(engine.Rendered()).To(Equal([]int{0, 2, 1}))
		})

		It("should leave a running job alone when it is reprioritized", func() {
			g := newGate(engine)
			s = scheduler.New()
			tok := s.Submit(render(h, 0), scheduler.PriorityLow)
			Eventually(g.started, time.Second).Should(BeClosed())

			s.Reprioritize(tok.Job(), scheduler.PriorityUrgent)
			Expect(s.Stats().Running).To(Equal(1))
			close(g.open)

			var c scheduler.Completion
			Eventually(tok.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFinished))
		})
	})

	Describe("Cancel", func() {
		It("should complete a queued job Cancelled without running it", func() {
			g := newGate(engine)
			s = scheduler.New()
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			tok := s.Submit(render(h, 7), scheduler.PriorityHigh)
			tok.Stop()

			var c scheduler.Completion
			Eventually(tok.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateCancelled))
			Expect(srvErrors.IsCancelledError(c.Err)).To(BeTrue())

			close(g.open)
			Eventually(blocker.C(), time.Second).Should(Receive())
			Expect(engine.Rendered()).NotTo(ContainElement(7))
		})

		// Given a job cancelled right after submission
		// When the scheduler processes it
		// Then exactly one completion is delivered
		It("should deliver one completion when cancelled immediately", func() {
			s = scheduler.New()
			j := render(h, 3)
			completions := 0
			j.OnCompleted(func(jobs.Job) { completions++ })

			tok := s.Submit(j, scheduler.PriorityLow)
			tok.Stop()

			Eventually(tok.C(), time.Second).Should(Receive())
			Consistently(tok.C(), 100*time.Millisecond).ShouldNot(Receive())
			Eventually(func() int {
				s.Loop().RunPending()
				return completions
			}, time.Second).Should(Equal(1))
			Consistently(func() int {
				s.Loop().RunPending()
				return completions
			}, 100*time.Millisecond).Should(Equal(1))
		})

		// Given a running job whose body will succeed
		// When it is cancelled before the body returns
		// Then the flag wins and the job ends Cancelled with a cancellation error
		It("should end a running job Cancelled", func() {
			g := newGate(engine)
			s = scheduler.New()
			tok := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			s.Cancel(tok.Job())
			close(g.open)

			var c scheduler.Completion
			Eventually(tok.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateCancelled))
			Expect(c.Err).To(HaveOccurred())
			Expect(tok.Job().Err()).To(MatchError(c.Err))
		})

		// Given a closed loop and a queued job whose OnCompleted resubmits work
		// When the queued job is cancelled
		// Then the callback is dropped and the scheduler keeps serving requests
		It("should drop callbacks the closed loop refuses", func() {
			// Arrange
			g := newGate(engine)
			s = scheduler.New()
			s.Loop().Close()
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			var called atomic.Bool
			j := render(h, 4)
			j.OnCompleted(func(jobs.Job) {
				called.Store(true)
				s.Submit(render(h, 5), scheduler.PriorityLow)
			})
			tok := s.Submit(j, scheduler.PriorityLow)

			// Act
			s.Cancel(j)

			// Assert
			Eventually(tok.C(), time.Second).Should(Receive())
			stats := make(chan scheduler.Stats, 1)
			go func() { stats <- s.Stats() }()
			Eventually(stats, time.Second).Should(Receive())
			Expect(called.Load()).To(BeFalse())

			close(g.open)
			Eventually(blocker.C(), time.Second).Should(Receive())
		})
	})

	Describe("Document serialization", func() {
		// Given two documents and a pool of four workers
		// When many renders are queued on both
		// Then each document runs one job at a time while documents run in parallel
		It("should never run two jobs of one document at once", func() {
			// Arrange
			var current, peak atomic.Int32
			engine.RenderHook = func(int) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				current.Add(-1)
			}
			other := engine.NewHandle("file:///other.pdf")
			s = scheduler.New(scheduler.WithWorkers(4))

			// Act
			var toks []*scheduler.Token
			for i := range 6 {
				toks = append(toks, s.Submit(render(h, i), scheduler.PriorityLow))
				toks = append(toks, s.Submit(render(other, i), scheduler.PriorityLow))
			}

			// Assert
			for _, tok := range toks {
				Eventually(tok.C(), 5*time.Second).Should(Receive())
			}
			Expect(engine.Overlaps()).To(BeZero())
			Expect(peak.Load()).To(Equal(int32(2)))
		})

		It("should strictly serialize everything with one worker", func() {
			var current, peak atomic.Int32
			engine.RenderHook = func(int) {
				if n := current.Add(1); n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
			}
			other := engine.NewHandle("file:///other.pdf")
			s = scheduler.New()

			var toks []*scheduler.Token
			for i := range 4 {
				toks = append(toks, s.Submit(render(h, i), scheduler.PriorityLow))
				toks = append(toks, s.Submit(render(other, i), scheduler.PriorityLow))
			}

			for _, tok := range toks {
				Eventually(tok.C(), 5*time.Second).Should(Receive())
			}
			Expect(peak.Load()).To(Equal(int32(1)))
		})
	})

	Describe("Requeue", func() {
		// Given a fonts scan and a render queued behind it on a busy document
		// When the fonts job finishes its first batch
		// Then it goes to the back of its priority and the render runs first
		It("should let other jobs run between font batches", func() {
			// Arrange
			engine.Fonts = map[int][]document.FontInfo{9: {{Name: "Last"}}}
			g := newGate(engine)
			s = scheduler.New()
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())

			fonts := jobs.NewFontsJob(h, 2)
			fontsTok := s.Submit(fonts, scheduler.PriorityHigh)
			r := render(h, 5)
			renderTok := s.Submit(r, scheduler.PriorityHigh)

			// Act
			close(g.open)

			// Assert
			Eventually(blocker.C(), time.Second).Should(Receive())
			var c scheduler.Completion
			Eventually(fontsTok.C(), 2*time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateFinished))
			Expect(r.Done()).To(BeClosed())
			Eventually(renderTok.C(), time.Second).Should(Receive())
			Expect(fonts.Result().Completed).To(BeTrue())
			Expect(fonts.Result().Fonts).To(ConsistOf(document.FontInfo{Name: "Last"}))
			Expect(s.Stats().Requeued).To(Equal(uint64(4)))
		})
	})

	Describe("Stats", func() {
		It("should count pending and running jobs", func() {
			g := newGate(engine)
			s = scheduler.New(scheduler.WithWorkers(2))
			blocker := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())
			a := s.Submit(render(h, 1), scheduler.PriorityHigh)
			b := s.Submit(render(h, 2), scheduler.PriorityHigh)

			st := s.Stats()
			Expect(st.Workers).To(Equal(2))
			Expect(st.Running).To(Equal(1))
			Expect(st.Pending).To(Equal(2))
			Expect(st.Submitted).To(Equal(uint64(3)))

			close(g.open)
			for _, tok := range []*scheduler.Token{blocker, a, b} {
				Eventually(tok.C(), time.Second).Should(Receive())
			}
			Eventually(func() uint64 { return s.Stats().Completed }, time.Second).Should(Equal(uint64(3)))
		})
	})

	Describe("Close", func() {
		It("should cancel queued jobs and wait for the running one", func() {
			g := newGate(engine)
			s = scheduler.New()
			running := s.Submit(render(h, 0), scheduler.PriorityHigh)
			Eventually(g.started, time.Second).Should(BeClosed())
			queued := s.Submit(render(h, 1), scheduler.PriorityHigh)

			closeDone := make(chan struct{})
			go func() {
				s.Close()
				close(closeDone)
			}()

			var c scheduler.Completion
			Eventually(queued.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateCancelled))
			Consistently(closeDone, 200*time.Millisecond).ShouldNot(BeClosed())

			close(g.open)
			Eventually(closeDone, time.Second).Should(BeClosed())
			Eventually(running.C(), time.Second).Should(Receive())
			s = nil // prevent AfterEach from closing again
		})

		It("should complete jobs submitted after Close as Cancelled", func() {
			s = scheduler.New()
			s.Close()

			tok := s.Submit(render(h, 0), scheduler.PriorityUrgent)

			var c scheduler.Completion
			Eventually(tok.C(), time.Second).Should(Receive(&c))
			Expect(c.State).To(Equal(jobs.StateCancelled))
			Expect(engine.Rendered()).To(BeEmpty())
			Expect(h.Refs()).To(Equal(1))
		})

		It("should not leak goroutines after Close under load", func() {
			base := runtime.NumGoroutine()
			s = scheduler.New(scheduler.WithWorkers(4))

			for i := range 200 {
				s.Submit(render(engine.NewHandle("file:///load.pdf"), i%10), scheduler.PriorityLow)
			}

			s.Close()
			s = nil // prevent AfterEach from closing again

			Eventually(func() int {
				return runtime.NumGoroutine()
			}, 5*time.Second, 100*time.Millisecond).Should(BeNumerically("<=", base+10))
		})
	})

	It("should parse priorities", func() {
		for _, p := range []scheduler.Priority{scheduler.PriorityNone, scheduler.PriorityLow, scheduler.PriorityHigh, scheduler.PriorityUrgent} {
			parsed, err := scheduler.ParsePriority(p.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(p))
		}
		_, err := scheduler.ParsePriority("later")
		Expect(err).To(HaveOccurred())
	})
})
