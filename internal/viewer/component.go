// Package viewer is the embedded repository viewer. It trusts only the
// Identity the gatekeeper attaches to each request and keeps its per-client
// state in generation-tagged HTTP session attributes.
package viewer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
)

// SessionReader runs read against s and recovers once from ErrStaleObject.
type SessionReader interface {
	Read(s *httpsession.Session, read func() error) error
}

// WebSession is the component's per-client state.
type WebSession struct {
	mu       sync.Mutex
	user     string
	lastRepo string
	created  time.Time
}

func newWebSession() *WebSession {
	return &WebSession{created: time.Now()}
}

// User is the name the viewer believes is logged in, or "".
func (w *WebSession) User() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.user
}

func (w *WebSession) LoggedIn() bool { return w.User() != "" }

func (w *WebSession) SetUser(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.user = name
}

// LastRepository is the repository last opened in this session.
func (w *WebSession) LastRepository() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRepo
}

func (w *WebSession) setLastRepository(repo string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastRepo = repo
}

// Reset clears the logged-in user and browsing state.
func (w *WebSession) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.user = ""
	w.lastRepo = ""
}

// ComponentOptions wires a Component.
type ComponentOptions struct {
	Name        string
	Generations *Generations
	Store       *Store
	Reader      SessionReader
	Projects    repository.ProjectRepository
	Bridge      *auth.Bridge
	Metrics     *telemetry.Metrics
}

// Component is the running viewer.
type Component struct {
	name     string
	gens     *Generations
	store    *Store
	reader   SessionReader
	projects repository.ProjectRepository
	bridge   *auth.Bridge
	metrics  *telemetry.Metrics
}

// NewComponent creates the viewer. The live generation of opts.Generations
// is the component's first load cycle.
func NewComponent(opts ComponentOptions) *Component {
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Discard()
	}
	if opts.Store == nil {
		opts.Store = NewStore(opts.Generations)
	}
	c := &Component{
		name:     opts.Name,
		gens:     opts.Generations,
		store:    opts.Store,
		reader:   opts.Reader,
		projects: opts.Projects,
		bridge:   opts.Bridge,
		metrics:  opts.Metrics,
	}
	log.WithFields(log.Fields{
		"component":  c.name,
		"generation": c.gens.Current(),
	}).Info("viewer component started")
	return c
}

func (c *Component) Name() string { return c.name }

func (c *Component) Store() *Store { return c.store }

// Generation is the live load cycle.
func (c *Component) Generation() Generation { return c.gens.Current() }

// Reload restarts the component under a new generation. Sessions marked
// with an older generation are purged on their next request.
func (c *Component) Reload() Generation {
	prev := c.gens.Current()
	next := c.gens.Mint()
	c.metrics.ComponentReloads.Inc()
	log.WithFields(log.Fields{
		"component":  c.name,
		"previous":   prev,
		"generation": next,
	}).Info("viewer component reloaded")
	return next
}

// sessionBinding is the component's unbind listener. It tracks how many
// sessions the component has touched.
type sessionBinding struct {
	gen     Generation
	metrics *telemetry.Metrics
}

func (b *sessionBinding) Unbound(s *httpsession.Session, _ string) {
	b.metrics.ViewerSessions.Dec()
	log.WithFields(log.Fields{"session": s.ID(), "generation": b.gen}).Debug("viewer session unbound")
}

// WebSession returns the client's WebSession, creating it on first use. A
// stale attribute is recovered through the session reader.
func (c *Component) WebSession(s *httpsession.Session) (*WebSession, error) {
	var ws *WebSession
	read := func() error {
		v, ok, err := Load[*WebSession](c.store, s, "websession")
		if err != nil {
			return err
		}
		if ok {
			ws = v
			return nil
		}
		fresh := newWebSession()
		if err := c.bind(s, fresh); err != nil {
			return err
		}
		ws = fresh
		return nil
	}

	var err error
	if c.reader != nil {
		err = c.reader.Read(s, read)
	} else {
		err = read()
	}
	if err != nil {
		return nil, fmt.Errorf("load web session: %w", err)
	}
	return ws, nil
}

// ReplaceWebSession discards the client's WebSession for a fresh one. The
// fresh WebSession is returned even when s can no longer store it.
func (c *Component) ReplaceWebSession(s *httpsession.Session) (*WebSession, error) {
	ws := newWebSession()
	return ws, c.bind(s, ws)
}

// bind stores ws in s. It fails with httpsession.ErrInvalidated once s has
// been invalidated.
func (c *Component) bind(s *httpsession.Session, ws *WebSession) error {
	gen := c.gens.Current()
	return s.Mutate(func(tx *httpsession.Tx) error {
		tx.Set(attrWebSession, entry{gen: gen, value: ws})
		if existing, ok := tx.Get(attrUnbind); ok {
			if b, ok := existing.(*sessionBinding); ok && b.gen == gen {
				return nil
			}
		}
		tx.Set(attrUnbind, &sessionBinding{gen: gen, metrics: c.metrics})
		c.metrics.ViewerSessions.Inc()
		return nil
	})
}

// IsStale reports whether err came from a stale session object.
func IsStale(err error) bool { return errors.Is(err, ErrStaleObject) }
