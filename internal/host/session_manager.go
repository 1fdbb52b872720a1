package host

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/repository"
)

const touchTimeout = 5 * time.Second

// SessionOptions configures the host cookie.
type SessionOptions struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// SessionManager resolves the host cookie into a Session for every request.
type SessionManager struct {
	accounts repository.AccountRepository
	sessions repository.HostSessionRepository
	opts     SessionOptions
	now      func() time.Time
}

// NewSessionManager creates a session manager backed by the host store.
func NewSessionManager(accounts repository.AccountRepository, sessions repository.HostSessionRepository, opts SessionOptions) *SessionManager {
	if opts.CookieName == "" {
		opts.CookieName = "VBHOST"
	}
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	return &SessionManager{accounts: accounts, sessions: sessions, opts: opts, now: time.Now}
}

// HashToken returns the hex SHA-256 of a host cookie value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Middleware loads the host session and attaches it to the request context.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r.Context(), w, r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

// Load resolves the host cookie on r. Invalid, expired or revoked cookies
// yield a signed-out session that can still be logged into.
func (m *SessionManager) Load(ctx context.Context, w http.ResponseWriter, r *http.Request) Session {
	s := &cookieSession{mgr: m, w: w, principal: Anonymous()}

	c, err := r.Cookie(m.opts.CookieName)
	if err != nil || c.Value == "" {
		return s
	}

	row, err := m.sessions.GetByTokenHash(ctx, HashToken(c.Value))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.WithError(err).Warn("host session lookup failed")
		}
		return s
	}
	if row.Revoked || row.ExpiresAt.Before(m.now()) {
		return s
	}

	acct, err := m.accounts.GetByID(ctx, row.AccountID)
	if err != nil {
		log.WithError(err).WithField("account_id", row.AccountID).Warn("host session references unknown account")
		return s
	}
	if acct.DisabledAt != nil {
		return s
	}

	s.id = row.ID
	s.principal = principalFromAccount(acct)

	go m.touch(row.ID)

	return s
}

// touch records session use outside the request so a slow store does not
// delay it.
func (m *SessionManager) touch(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := m.sessions.UpdateLastUsed(ctx, id); err != nil {
		log.WithError(err).WithField("session_id", id).Debug("update host session last use")
	}
}

func principalFromAccount(a *models.Account) *Principal {
	return &Principal{
		AccountID:      a.ID,
		Username:       a.DisplayUsername(),
		FullName:       a.FullName,
		PreferredEmail: a.PreferredEmail,
		Identified:     true,
	}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// cookieSession is the Session of a single request. Login and Logout write
// the host cookie on the request's response.
type cookieSession struct {
	mgr *SessionManager
	w   http.ResponseWriter

	mu        sync.RWMutex
	id        string
	principal *Principal
}

func (s *cookieSession) IsSignedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id != "" && !s.principal.IsAnonymous()
}

func (s *cookieSession) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *cookieSession) CurrentPrincipal() *Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal
}

func (s *cookieSession) Login(ctx context.Context, result *AuthResult) error {
	if result == nil || result.Principal.IsAnonymous() {
		return fmt.Errorf("login requires an identified principal")
	}

	token, err := newToken()
	if err != nil {
		return err
	}
	now := s.mgr.now().UTC()
	row := &models.HostSession{
		ID:         bunx.NewUUIDv7(),
		AccountID:  result.AccountID,
		TokenHash:  HashToken(token),
		ExpiresAt:  now.Add(s.mgr.opts.TTL),
		CreatedAt:  now,
		LastUsedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		if err := s.mgr.sessions.Revoke(ctx, s.id); err != nil {
			log.WithError(err).Warn("revoke replaced host session")
		}
	}
	if err := s.mgr.sessions.Create(ctx, row); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	s.id = row.ID
	s.principal = result.Principal
	http.SetCookie(s.w, &http.Cookie{
		Name:     s.mgr.opts.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  row.ExpiresAt,
		HttpOnly: true,
		Secure:   s.mgr.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *cookieSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		if err := s.mgr.sessions.Revoke(ctx, s.id); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	s.id = ""
	s.principal = Anonymous()
	http.SetCookie(s.w, &http.Cookie{
		Name:     s.mgr.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.mgr.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
