package httpsession

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
)

// Options configures a Store.
type Options struct {
	CookieName  string
	Path        string
	TTL         time.Duration
	MaxSessions int
	Secure      bool
}

// Store holds sessions in memory. Idle sessions expire after TTL and the
// least recently used session is evicted when MaxSessions is exceeded; both
// invalidate the session and notify its unbind listeners.
//
// Unbind listeners fired by expiry run inside the store's eviction path and
// must not call back into the Store.
type Store struct {
	opts     Options
	sessions *expirable.LRU[string, *Session]
	now      func() time.Time
}

// NewStore creates a store with defaults applied to opts.
func NewStore(opts Options) *Store {
	if opts.CookieName == "" {
		opts.CookieName = "VBSESSION"
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10000
	}
	st := &Store{opts: opts, now: time.Now}
	st.sessions = expirable.NewLRU[string, *Session](opts.MaxSessions, func(id string, s *Session) {
		log.WithField("session", id).Debug("http session evicted")
		s.invalidate()
	}, opts.TTL)
	return st
}

// Lookup returns the live session with id and extends its lifetime.
func (st *Store) Lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s, ok := st.sessions.Get(id)
	if !ok || !s.Valid() {
		return nil, false
	}
	st.sessions.Add(id, s)
	return s, true
}

// Create registers a new empty session.
func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.now())
	st.sessions.Add(s.id, s)
	return s
}

// Invalidate removes the session, notifying its unbind listeners.
func (st *Store) Invalidate(s *Session) {
	if !st.sessions.Remove(s.id) {
		s.invalidate()
	}
}

// Len is the number of live sessions.
func (st *Store) Len() int { return st.sessions.Len() }

// Middleware makes the client's session available through FromContext.
// Sessions are created lazily, on the first FromContext(ctx, true).
func (st *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := &requestSession{store: st, w: w}
		if c, err := r.Cookie(st.opts.CookieName); err == nil {
			rs.cookie = c.Value
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey{}, rs)))
	})
}

func (st *Store) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     st.opts.CookieName,
		Value:    value,
		Path:     st.opts.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   st.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type requestKey struct{}

type requestSession struct {
	store  *Store
	w      http.ResponseWriter
	cookie string

	mu     sync.Mutex
	loaded bool
	s      *Session
}

func (rs *requestSession) get(create bool) *Session {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.loaded {
		rs.loaded = true
		if s, ok := rs.store.Lookup(rs.cookie); ok {
			rs.s = s
		}
	}
	if rs.s != nil && !rs.s.Valid() {
		rs.s = nil
	}
	if rs.s == nil && create {
		rs.s = rs.store.Create()
		rs.store.setCookie(rs.w, rs.s.id, 0)
	}
	return rs.s
}

// FromContext returns the request's session. With create it starts a new
// session when the client has none; otherwise it may return nil.
func FromContext(ctx context.Context, create bool) *Session {
	rs, ok := ctx.Value(requestKey{}).(*requestSession)
	if !ok {
		return nil
	}
	return rs.get(create)
}

// Renew invalidates the request's session and starts a fresh one.
func Renew(ctx context.Context) *Session {
	rs, ok := ctx.Value(requestKey{}).(*requestSession)
	if !ok {
		return nil
	}
	if old := rs.get(false); old != nil {
		rs.store.Invalidate(old)
	}
	rs.mu.Lock()
	rs.s = nil
	rs.mu.Unlock()
	return rs.get(true)
}

// Invalidate ends the request's session and clears the cookie.
func Invalidate(ctx context.Context) {
	rs, ok := ctx.Value(requestKey{}).(*requestSession)
	if !ok {
		return
	}
	if s := rs.get(false); s != nil {
		rs.store.Invalidate(s)
	}
	rs.mu.Lock()
	rs.s = nil
	rs.mu.Unlock()
	rs.store.setCookie(rs.w, "", -1)
}
