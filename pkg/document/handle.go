package document

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrReleased is returned when using a handle whose last reference is gone.
var ErrReleased = errors.New("document handle released")

// Handle is a shared, reference-counted document. The owner holds the first
// reference; every job borrowing the handle takes one more and drops it at
// its terminal state. The backend is closed when the count reaches zero.
type Handle struct {
	id      string
	backend Backend

	// mu is the document lock: it serializes every engine call.
	mu sync.Mutex

	uriMu sync.RWMutex
	uri   string

	refs     atomic.Int32
	closeErr error
}

func NewHandle(uri string, b Backend) *Handle {
	h := &Handle{
		id:      uuid.NewString(),
		backend: b,
		uri:     uri,
	}
	h.refs.Store(1)
	return h
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) URI() string {
	h.uriMu.RLock()
	defer h.uriMu.RUnlock()
	return h.uri
}

func (h *Handle) SetURI(uri string) {
	h.uriMu.Lock()
	defer h.uriMu.Unlock()
	h.uri = uri
}

// Backend returns the engine document. Callers must hold the lock while using it.
func (h *Handle) Backend() Backend { return h.backend }

// PageCount reads the page count under the document lock.
func (h *Handle) PageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backend.PageCount()
}

func (h *Handle) Lock()   { h.mu.Lock() }
func (h *Handle) Unlock() { h.mu.Unlock() }

// Ref takes a reference. It fails once the handle has been released.
func (h *Handle) Ref() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Unref drops a reference and closes the backend on the last one.
func (h *Handle) Unref() error {
	n := h.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		h.refs.Store(0)
		return ErrReleased
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.backend != nil {
		h.closeErr = h.backend.Close()
	}
	zap.S().Named("document").Debugw("document released", "id", h.id, "uri", h.URI(), "error", h.closeErr)
	return h.closeErr
}

func (h *Handle) Refs() int { return int(h.refs.Load()) }

func (h *Handle) Released() bool { return h.refs.Load() <= 0 }
