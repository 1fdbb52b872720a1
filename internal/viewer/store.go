package viewer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/terraconstructs/viewbridge/internal/httpsession"
)

// ErrStaleObject is returned when a session attribute was written by an
// earlier generation of the component or no longer has the expected type.
var ErrStaleObject = errors.New("stale viewer session object")

const (
	// AttrPrefix marks the session attributes the component owns.
	AttrPrefix = "viewer."

	// MarkerAttr holds the generation that last initialized the session. It
	// is not owned by the component and survives purges.
	MarkerAttr = "viewbridge.generation"

	attrWebSession = AttrPrefix + "websession"
	attrUnbind     = AttrPrefix + "unbind"
)

// entry is a component-owned attribute tagged with its generation.
type entry struct {
	gen   Generation
	value any
}

// Store reads and writes the component's attributes in an HTTP session.
type Store struct {
	gens *Generations
}

// NewStore creates a store bound to gens.
func NewStore(gens *Generations) *Store {
	return &Store{gens: gens}
}

// Owns reports whether key belongs to the component.
func (st *Store) Owns(key string) bool {
	return strings.HasPrefix(key, AttrPrefix)
}

// Put stores v under AttrPrefix+name, tagged with the live generation.
func (st *Store) Put(s *httpsession.Session, name string, v any) {
	s.Set(AttrPrefix+name, entry{gen: st.gens.Current(), value: v})
}

// Load returns the value stored under AttrPrefix+name. A value from another
// generation, or of a type other than T, yields ErrStaleObject.
func Load[T any](st *Store, s *httpsession.Session, name string) (T, bool, error) {
	var zero T
	raw, ok := s.Get(AttrPrefix + name)
	if !ok {
		return zero, false, nil
	}
	e, ok := raw.(entry)
	if !ok {
		return zero, false, fmt.Errorf("%s: untagged %T: %w", name, raw, ErrStaleObject)
	}
	if e.gen != st.gens.Current() {
		return zero, false, fmt.Errorf("%s: generation %s: %w", name, e.gen, ErrStaleObject)
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, false, fmt.Errorf("%s: holds %T: %w", name, e.value, ErrStaleObject)
	}
	return v, true, nil
}

// Purge removes every component-owned attribute, including the unbind
// listener, and returns how many were removed. It runs inside the caller's
// Mutate section.
func (st *Store) Purge(tx *httpsession.Tx) int {
	n := 0
	for _, k := range tx.Keys() {
		if st.Owns(k) && tx.Remove(k) {
			n++
		}
	}
	return n
}
