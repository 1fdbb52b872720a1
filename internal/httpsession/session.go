// Package httpsession is the server-side HTTP session container shared by
// the gatekeeper and the viewer. Sessions are addressed by a cookie and live
// in a bounded, expiring LRU.
package httpsession

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrInvalidated is returned by Mutate on a session that has been removed
// from its store.
var ErrInvalidated = errors.New("session invalidated")

// UnbindListener is notified after its attribute leaves a session, whether
// by removal, replacement or session expiry.
type UnbindListener interface {
	Unbound(s *Session, key string)
}

type unbinding struct {
	key string
	l   UnbindListener
}

// Session is one client's attribute map. All access is serialized.
type Session struct {
	id      string
	created time.Time

	mu      sync.Mutex
	attrs   map[string]any
	invalid bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, created: now, attrs: make(map[string]any)}
}

// ID is the value of the session cookie.
func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.created }

// Valid reports whether the session is still held by its store.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.invalid
}

// Get returns the attribute stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Set stores v under key.
func (s *Session) Set(key string, v any) {
	_ = s.Mutate(func(tx *Tx) error {
		tx.Set(key, v)
		return nil
	})
}

// Remove deletes key.
func (s *Session) Remove(key string) {
	_ = s.Mutate(func(tx *Tx) error {
		tx.Remove(key)
		return nil
	})
}

// Keys returns the attribute names in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.attrs)
}

// Mutate runs fn with exclusive access to the attributes. No other reader or
// writer observes the session until fn returns, which makes read-compare-write
// sequences inside fn atomic. Unbind listeners run after the lock is
// released, so they may use the session themselves.
func (s *Session) Mutate(fn func(tx *Tx) error) error {
	tx := &Tx{s: s}
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.invalid {
			return ErrInvalidated
		}
		return fn(tx)
	}()

	tx.notify()
	return err
}

// invalidate drops every attribute and marks the session unusable.
func (s *Session) invalidate() {
	tx := &Tx{s: s}
	s.mu.Lock()
	if !s.invalid {
		for _, k := range sortedKeys(s.attrs) {
			tx.Remove(k)
		}
		s.invalid = true
	}
	s.mu.Unlock()

	tx.notify()
}

// Tx is the locked view of a session handed to Mutate.
type Tx struct {
	s       *Session
	unbound []unbinding
}

func (tx *Tx) Get(key string) (any, bool) {
	v, ok := tx.s.attrs[key]
	return v, ok
}

// Set stores v under key. A replaced value that is an UnbindListener is
// notified unless it is v itself.
func (tx *Tx) Set(key string, v any) {
	if old, ok := tx.s.attrs[key]; ok {
		if l, isListener := old.(UnbindListener); isListener && !sameValue(old, v) {
			tx.unbound = append(tx.unbound, unbinding{key, l})
		}
	}
	tx.s.attrs[key] = v
}

// Remove deletes key and reports whether it was present.
func (tx *Tx) Remove(key string) bool {
	old, ok := tx.s.attrs[key]
	if !ok {
		return false
	}
	delete(tx.s.attrs, key)
	if l, isListener := old.(UnbindListener); isListener {
		tx.unbound = append(tx.unbound, unbinding{key, l})
	}
	return true
}

// Keys returns the attribute names in sorted order.
func (tx *Tx) Keys() []string { return sortedKeys(tx.s.attrs) }

func (tx *Tx) notify() {
	for _, u := range tx.unbound {
		u.l.Unbound(tx.s, u.key)
	}
	tx.unbound = nil
}

func sameValue(a, b any) (same bool) {
	defer func() {
		// uncomparable dynamic types
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
