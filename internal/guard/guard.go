// Package guard keeps HTTP sessions consistent with the viewer component's
// live generation. Every session the component touches carries a marker
// naming the generation that initialized it; a session marked by an older
// generation has all component state evicted before the component reads it.
package guard

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"github.com/terraconstructs/viewbridge/internal/viewer"
)

// State is what Reconcile found in the marker slot.
type State int

const (
	Unmarked State = iota
	Current
	Stale
)

func (s State) String() string {
	switch s {
	case Unmarked:
		return "unmarked"
	case Current:
		return "current"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Guard reconciles sessions against the live generation.
type Guard struct {
	gens    *viewer.Generations
	store   *viewer.Store
	metrics *telemetry.Metrics
}

// New creates a guard for the component store.
func New(gens *viewer.Generations, store *viewer.Store, metrics *telemetry.Metrics) *Guard {
	if metrics == nil {
		metrics = telemetry.Discard()
	}
	return &Guard{gens: gens, store: store, metrics: metrics}
}

// Reconcile compares the session marker with the live generation and, when
// they differ, purges the component's attributes and rewrites the marker.
// The whole sequence runs under the session lock, so concurrent requests on
// one session see it either before or after, and a marker is only ever
// replaced if it still holds the value that was compared.
func (g *Guard) Reconcile(s *httpsession.Session) (State, error) {
	live := g.gens.Current()
	var (
		state  State
		purged int
		prev   any
	)
	err := s.Mutate(func(tx *httpsession.Tx) error {
		marker, ok := tx.Get(viewer.MarkerAttr)
		switch {
		case !ok:
			state = Unmarked
		case marker == live:
			state = Current
			return nil
		default:
			state = Stale
			prev = marker
			purged = g.store.Purge(tx)
		}
		tx.Set(viewer.MarkerAttr, live)
		return nil
	})
	if err != nil {
		return state, fmt.Errorf("reconcile session %s: %w", s.ID(), err)
	}

	g.metrics.SessionReconciles.WithLabelValues(state.String()).Inc()
	if state == Stale {
		log.WithFields(log.Fields{
			"session":    s.ID(),
			"previous":   prev,
			"generation": live,
			"purged":     purged,
		}).Info("purged viewer state from an earlier generation")
	}
	return state, nil
}

// Purge evicts the component's attributes unconditionally and marks the
// session with the live generation.
func (g *Guard) Purge(s *httpsession.Session) (int, error) {
	live := g.gens.Current()
	var purged int
	err := s.Mutate(func(tx *httpsession.Tx) error {
		purged = g.store.Purge(tx)
		tx.Set(viewer.MarkerAttr, live)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge session %s: %w", s.ID(), err)
	}
	g.metrics.SessionReconciles.WithLabelValues("forced").Inc()
	return purged, nil
}

// Read runs read and, if it fails with viewer.ErrStaleObject, purges the
// session and runs it exactly once more.
func (g *Guard) Read(s *httpsession.Session, read func() error) error {
	err := read()
	if !viewer.IsStale(err) {
		return err
	}
	purged, perr := g.Purge(s)
	if perr != nil {
		return errors.Join(err, perr)
	}
	log.WithError(err).WithFields(log.Fields{
		"session": s.ID(),
		"purged":  purged,
	}).Info("recovered stale viewer session object")
	return read()
}
