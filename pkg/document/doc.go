// Package document defines the boundary between jobs and a document engine.
//
// # Handle
//
// A Handle wraps one engine Backend and carries two things every job needs:
//
//   - the document lock, which serializes all engine calls for that document
//   - an atomic reference count, so the backend outlives every job using it
//
// Ownership rules:
//
//	owner:  h := NewHandle(uri, backend)   refs=1
//	job:    h.Ref()  ... h.Unref()         refs+1 / refs-1 at terminal state
//	owner:  h.Unref()                      last reference closes the backend
//
// # Capabilities
//
// Backend is the mandatory surface (load, save, page count/size, render).
// Everything else is optional and discovered with a type assertion:
//
//	┌──────────────────┬──────────────────────────────────────────────┐
//	│ Interface        │ Used by                                      │
//	├──────────────────┼──────────────────────────────────────────────┤
//	│ AsyncRenderer    │ Render job (detached completion)             │
//	│ LinkMapper       │ Render job, Links flag                       │
//	│ FormFieldMapper  │ Render job, Forms flag                       │
//	│ ImageMapper      │ Render job, Images flag                      │
//	│ TextMapper       │ Render job, Text flag and selection          │
//	│ TextFinder       │ Find job                                     │
//	│ OutlineProvider  │ Links job                                    │
//	│ FontScanner      │ Fonts job                                    │
//	│ FileExporter     │ Print job                                    │
//	└──────────────────┴──────────────────────────────────────────────┘
//
// # Lock order
//
// Locks are created lazily and never destroyed. The order is fixed:
//
//	document lock  ──►  font-cache lock
//
// TextMapper, TextFinder and FontScanner calls happen with both held.
package document
