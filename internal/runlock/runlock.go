package runlock

import "sync"

// Lock is an in-process test-and-set mutual exclusion guard keyed by check
// identity. One entry exists per concurrently-executing check, only for the
// duration of that execution. If execution ever moves to multiple processes,
// this must become a lock backed by the shared result store instead.
type Lock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func New() *Lock {
	return &Lock{held: make(map[string]struct{})}
}

// TryAcquire is non-blocking: true means the caller now owns the key and must
// Release it on every exit path.
func (l *Lock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *Lock) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

func (l *Lock) IsHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[key]
	return busy
}
