// Package jobs implements the job kinds run by the scheduler.
//
// A job is created Pending, moves to Running when a worker picks it up and
// ends in exactly one of Finished, Failed or Cancelled. The terminal
// transition happens once per run: Done is closed, the document reference
// taken at submission is dropped and OnCompleted callbacks are posted to the
// dispatcher.
//
// Two sentinels let a run-body leave Running without ending the job:
//
//	ErrContinue  the job is back in Pending and must be queued again (fonts)
//	ErrDetached  the engine finishes the job from its own callback (render)
//
// Cancellation is cooperative. Cancel sets a flag that run-bodies poll with
// Checkpoint between engine calls. A job cancelled before it starts never
// runs its body.
//
// Results are written by the run-body only and must be read after Done is
// closed.
package jobs
