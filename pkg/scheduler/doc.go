// Package scheduler runs document jobs on a bounded pool of workers, ordered
// by priority and serialized per document.
//
// Jobs are submitted with Submit and a Token is returned immediately. The
// token receives exactly one Completion when the job reaches a terminal state.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                           Scheduler                                 │
//	│                                                                     │
//	│  ┌──────────────┐      ┌──────────────┐      ┌──────────────┐       │
//	│  │   Worker 1   │      │   Worker 2   │      │   Worker N   │       │
//	│  │  (doc A)     │      │  (doc B)     │      │   idle       │       │
//	│  └──────────────┘      └──────────────┘      └──────────────┘       │
//	│         ▲                     ▲                                     │
//	│         └──────────┬──────────┘                                     │
//	│             ┌──────┴──────┐        busy: {doc A, doc B}             │
//	│             │  dispatch() │ ◄───── skips entries on a busy doc      │
//	│             └──────┬──────┘                                         │
//	│                    │                                                │
//	│  ┌─────────────────┴───────────────────────────────────────┐        │
//	│  │              Priority Queue (heap)                      │        │
//	│  │  urgent: [j4]  high: [j1 j7]  low: [j2]  none: [j9]     │        │
//	│  └─────────────────────────────────────────────────────────┘        │
//	│                    ▲                                                │
//	│        Submit(job, priority) / Reprioritize / Cancel                │
//	└─────────────────────────────────────────────────────────────────────┘
//
// # Ordering
//
// The queue is a max-heap on priority. Inside a priority, jobs run in
// submission order. A job that returns jobs.ErrContinue is pushed back with a
// fresh sequence number, so it goes behind everything already queued at its
// priority. The fonts scan uses this to let renders run between batches.
//
// A job whose document is already used by another worker stays queued and
// keeps its place. The next job in order that can run is taken instead.
//
// # Job Execution Flow
//
//  1. Client calls Submit(job, priority)
//     │
//     ▼
//  2. The token registers a hook on the job and the job takes a reference
//     on its document. A released document fails the job right away.
//     │
//     ▼
//  3. The entry is sent to run(), pushed on the heap, and dispatch() runs
//     │
//     ▼
//  4. dispatch() pairs free workers with runnable entries and marks the
//     entry's document busy
//     │
//     ▼
//  5. The worker takes the document lock and calls jobs.Execute:
//     - Pending → Running
//     - Run-body executes, checking the cancel flag between engine calls
//     - Document lock released (some kinds release it earlier)
//     - Terminal state set, hook fires, token receives its Completion
//     │
//     ▼
//  6. The worker reports to run() on the done channel. The document is no
//     longer busy and dispatch() runs again.
//
// Callbacks registered with OnCompleted are not run by workers. They are
// posted to the dispatcher, by default the scheduler's own eventloop.Loop,
// and run on whatever goroutine drains it.
//
// # Cancellation
//
//	Token.Stop() / Cancel(job)
//	     │
//	     ├── queued  → removed from heap, completes Cancelled now
//	     └── running → flag set, run-body stops at next checkpoint
//
// Cancelling a terminal job does nothing. A job cancelled before it starts
// never calls the engine.
//
// # Graceful Shutdown
//
// Close() performs graceful shutdown:
//
//  1. Cancels the main context, seen by run-bodies at their checkpoints
//  2. Completes every queued job Cancelled
//  3. Waits for in-flight workers
//  4. Cancels jobs that asked to continue while closing
//
// Jobs submitted after Close complete Cancelled without running. Close is
// idempotent.
//
// # Usage Example
//
//	sched := scheduler.New(scheduler.WithWorkers(2), scheduler.WithFactory(engine))
//	defer sched.Close()
//
//	job := jobs.NewRenderJob(doc, jobs.RenderParams{Page: 0, Scale: 1.5})
//	tok := sched.Submit(job, scheduler.PriorityUrgent)
//
//	select {
//	case c := <-tok.C():
//	    if c.Err != nil {
//	        log.Printf("render failed: %v", c.Err)
//	    }
//	case <-ctx.Done():
//	    tok.Stop()
//	}
package scheduler
