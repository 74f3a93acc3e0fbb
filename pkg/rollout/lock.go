package rollout

import "sync"

// hostLocks is the per-host exclusivity registry. At most one rollout may
// be non-terminal for a given host identifier at a time; acquisition is
// non-blocking and failure means Conflict at intake.
//
// Different hosts roll out fully in parallel; this registry is the only
// shared state between them.
type hostLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newHostLocks() *hostLocks {
	return &hostLocks{
		active: make(map[string]struct{}),
	}
}

// TryAcquire claims the host. Returns false when a rollout is already
// active for it.
func (l *hostLocks) TryAcquire(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[host]; held {
		return false
	}
	l.active[host] = struct{}{}
	return true
}

// Release frees the host. Safe to call for a host that is not held.
func (l *hostLocks) Release(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, host)
}

// Held reports whether the host is currently claimed
func (l *hostLocks) Held(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[host]
	return held
}
