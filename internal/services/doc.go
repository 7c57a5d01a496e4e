// Package services implements the caller-side layer of docjobs.
//
// Services sit between the CLI and the scheduler/store: a Session drives the
// jobs of one open document, HistoryService reads and trims the job history.
//
// # Service Dependency Graph
//
//	CLI (cmd/docjobs)
//	    │
//	    ▼
//	Services Layer
//	    ├── Session ─────────► Scheduler, Recorder (HistoryService)
//	    └── HistoryService ──► Store
//
// # Session
//
// A Session owns one reference on its document. Each method builds a job,
// submits it at a fixed priority and blocks until the job completes or the
// context ends:
//
//	┌──────────────┬───────────┬─────────────────────────────────────┐
//	│  Method      │  Job      │  Priority                           │
//	├──────────────┼───────────┼─────────────────────────────────────┤
//	│  Open        │  load     │  urgent                             │
//	│  Render      │  render   │  urgent                             │
//	│  Save        │  save     │  urgent                             │
//	│  Thumbnail   │  thumbnail│  high                               │
//	│  Find        │  find     │  high                               │
//	│  Print       │  print    │  high                               │
//	│  Thumbnails  │  thumbnail│  low, one job per page              │
//	│  Outline     │  links    │  low                                │
//	│  Fonts       │  fonts    │  none, requeued between batches     │
//	└──────────────┴───────────┴─────────────────────────────────────┘
//
// When the context ends first, the job is cancelled and the call still
// waits for its single completion. Deadlines are therefore implemented by
// cancellation.
//
// Password flow:
//
//	err := session.Open(ctx, uri, "")
//	if srvErrors.IsEncryptedDocumentError(err) {
//	    // same load job, rerun with the password
//	    err = session.Open(ctx, uri, password)
//	}
//
// Start submits without waiting and returns a models.Future.
//
// Every completion is handed to the Recorder, when one is set.
//
// # HistoryService
//
// HistoryService lists recorded jobs with filtering, sorting and
// pagination, and prunes old records.
//
//	result, err := history.List(ctx, services.HistoryListParams{
//	    Kinds:  []string{"render"},
//	    States: []models.JobState{models.JobStateFailed},
//	    Limit:  20,
//	})
//
// # Thread Safety
//
// Session methods may be called from several goroutines; the document
// pointer is protected by a mutex and jobs on it are serialized by the
// scheduler. HistoryService is stateless.
package services
