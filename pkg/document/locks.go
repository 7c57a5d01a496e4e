package document

import "sync"

// Locks holds the process-wide resources shared by all documents. The
// font-cache lock guards the engine's global font subsystem and may only be
// taken while holding a document lock, never the other way around.
type Locks struct {
	fontOnce sync.Once
	font     *sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{}
}

// FontCache returns the font-cache lock, creating it on first use.
func (l *Locks) FontCache() sync.Locker {
	l.fontOnce.Do(func() {
		l.font = &sync.Mutex{}
	})
	return l.font
}

// WithFontCache runs fn while holding the font-cache lock.
func (l *Locks) WithFontCache(fn func() error) error {
	lk := l.FontCache()
	lk.Lock()
	defer lk.Unlock()
	return fn()
}
