// ABOUTME: Ephemeral TTL key/value store that parks pending agent replies.
// ABOUTME: Entries are consumed at most once via an atomic take-and-delete.

package mailbox

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the reply state and list element for a mailbox key.
type entry struct {
	value     string
	fulfilled bool
	expiresAt time.Time
	element   *list.Element
}

// Store provides a thread-safe, TTL-based, size-limited mailbox keyed by
// request id. A key holds the pending sentinel until the remote agent
// delivers the reply; the first Take of a fulfilled key consumes it.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a mailbox store with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Create seeds a pending entry for the key and arms its TTL.
// An existing entry for the same key is reset to pending.
func (s *Store) Create(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists {
		e.value = ""
		e.fulfilled = false
		e.expiresAt = time.Now().Add(s.ttl)
		s.order.MoveToBack(e.element)
		return
	}

	if len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.order.PushBack(key)
	s.entries[key] = &entry{
		expiresAt: time.Now().Add(s.ttl),
		element:   elem,
	}
}

// Deliver fulfills the entry for the key with the final reply text,
// re-arming its TTL. Delivering to an absent or expired key creates the
// entry; a late callback is harmless and the TTL collects it if nobody polls.
func (s *Store) Deliver(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	if !exists || time.Now().After(e.expiresAt) {
		if !exists {
			if len(s.entries) >= s.maxSize {
				s.evictOldest()
			}
			e = &entry{element: s.order.PushBack(key)}
			s.entries[key] = e
		}
	}

	e.value = value
	e.fulfilled = true
	e.expiresAt = time.Now().Add(s.ttl)
	s.order.MoveToBack(e.element)
}

// Take atomically consumes a fulfilled entry: exactly one of N concurrent
// callers observes (value, true); everyone else sees pending or absence.
// Pending, absent, and expired keys all return ("", false).
func (s *Store) Take(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	if !exists {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		s.removeLocked(key, e)
		return "", false
	}
	if !e.fulfilled {
		return "", false
	}

	s.removeLocked(key, e)
	return e.value, true
}

// Pending reports whether the key currently holds an unexpired entry
// (pending or fulfilled). The HTTP status contract cannot use this:
// consumed and expired keys are both absent, so callers outside the
// package only ever see Take's pending/complete distinction.
func (s *Store) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[key]
	return exists && !time.Now().After(e.expiresAt)
}

// Delete removes an entry without consuming it. Used when the outbound
// trigger fails and the submission is abandoned.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists {
		s.removeLocked(key, e)
	}
}

// Len returns the number of live entries, expired or not yet swept included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// removeLocked deletes an entry. Must be called with mu held.
func (s *Store) removeLocked(key string, e *entry) {
	s.order.Remove(e.element)
	delete(s.entries, key)
}

// evictOldest removes the oldest entry from the store.
// Must be called with mu held. O(1) operation using linked list.
func (s *Store) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.entries, key)
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (s *Store) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSweep()
		case <-s.done:
			return
		}
	}
}

// runSweep removes all expired entries from the store.
func (s *Store) runSweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			s.order.Remove(e.element)
			delete(s.entries, key)
		}
	}
}

// Close stops the background sweep goroutine. It is safe to call multiple times.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
