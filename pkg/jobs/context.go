package jobs

import (
	"context"
	"os"
	"sync"

	"github.com/tupyy/docjobs/pkg/document"
)

// Dispatcher delivers callbacks on the caller's loop. eventloop.Loop
// implements it.
type Dispatcher interface {
	Post(fn func()) bool
}

// RunContext is handed by the scheduler to each run-body.
type RunContext struct {
	Context    context.Context
	Locks      *document.Locks
	Factory    document.Factory
	Dispatcher Dispatcher
	// TempDir is where jobs create private temporary files. Empty means
	// os.TempDir.
	TempDir string

	unlockOnce sync.Once
	unlock     func()
}

// LockDocument acquires h's document lock for the run. The lock is released
// by ReleaseDocument.
func (rc *RunContext) LockDocument(h *document.Handle) {
	if h == nil {
		return
	}
	h.Lock()
	rc.unlock = h.Unlock
}

// ReleaseDocument releases the document lock taken by LockDocument. Jobs call
// it early when the rest of their work does not touch the engine; later
// calls are no-ops.
func (rc *RunContext) ReleaseDocument() {
	if rc == nil {
		return
	}
	rc.unlockOnce.Do(func() {
		if rc.unlock != nil {
			rc.unlock()
		}
	})
}

// WithFontCache runs fn under the font-cache lock.
func (rc *RunContext) WithFontCache(fn func() error) error {
	if rc == nil || rc.Locks == nil {
		return fn()
	}
	return rc.Locks.WithFontCache(fn)
}

func (rc *RunContext) ctx() context.Context {
	if rc == nil || rc.Context == nil {
		return context.Background()
	}
	return rc.Context
}

func (rc *RunContext) tempDir() string {
	if rc == nil || rc.TempDir == "" {
		return os.TempDir()
	}
	return rc.TempDir
}
