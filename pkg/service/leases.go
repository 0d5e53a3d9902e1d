package service

import (
	"sync"
	"time"
)

// Leases guards against concurrent processing of the same unit of work.
// Dispatch is at-least-once, so the same event may arrive again while a
// previous delivery is still being worked on. A lease is held for ttl and
// expires on its own; Release only shortens the wait.
type Leases struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewLeases(ttl time.Duration) *Leases {
	return &Leases{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire returns true when no live lease exists for key and takes one.
func (l *Leases) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if taken, ok := l.entries[key]; ok && now.Sub(taken) < l.ttl {
		return false
	}
	l.entries[key] = now
	return true
}

// Release drops the lease so the key can be retried immediately.
func (l *Leases) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
