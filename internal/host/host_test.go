package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/viewbridge/internal/db/dbtest"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	db       *bun.DB
	accounts *repository.BunAccountRepository
	sessions *repository.BunHostSessionRepository
	projects *repository.BunProjectRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.NewDB(t)
	return &fixture{
		db:       db,
		accounts: repository.NewBunAccountRepository(db),
		sessions: repository.NewBunHostSessionRepository(db),
		projects: repository.NewBunProjectRepository(db),
	}
}

func (f *fixture) account(t *testing.T, username, password string) *models.Account {
	t.Helper()
	a := &models.Account{Username: &username, FullName: strings.ToUpper(username), PreferredEmail: username + "@example.com"}
	if password != "" {
		h, err := HashPassword(password, bcrypt.MinCost)
		require.NoError(t, err)
		a.PasswordHash = &h
	}
	require.NoError(t, f.accounts.Create(context.Background(), a))
	return a
}

func TestAccountVerifier(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", "s3cret")
	f.account(t, "nopass", "")
	disabled := f.account(t, "gone", "pw")
	require.NoError(t, f.accounts.SetDisabled(context.Background(), disabled.ID, true))

	v := NewAccountVerifier(f.accounts)
	ctx := context.Background()

	result, err := v.Verify(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, result.AccountID)
	assert.Equal(t, "alice", result.Principal.Username)
	assert.True(t, result.Principal.Identified)

	for _, tc := range []struct{ name, user, pass string }{
		{"wrong password", "alice", "nope"},
		{"unknown user", "mallory", "s3cret"},
		{"no password set", "nopass", "anything"},
		{"disabled account", "gone", "pw"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tc.user, tc.pass)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestSessionManager_LoginLogoutRoundTrip(t *testing.T) {
	f := newFixture(t)
	alice := f.account(t, "alice", "pw")
	mgr := NewSessionManager(f.accounts, f.sessions, SessionOptions{CookieName: "HOST", TTL: time.Hour})

	var seen Session
	probe := mgr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFromContext(r.Context())
		switch r.URL.Path {
		case "/login":
			require.NoError(t, seen.Login(r.Context(), &AuthResult{
				AccountID: alice.ID,
				Principal: principalFromAccount(alice),
			}))
		case "/logout":
			require.NoError(t, seen.Logout(r.Context()))
		}
	}))

	// no cookie
	rec := httptest.NewRecorder()
	probe.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, seen.IsSignedIn())
	assert.Empty(t, seen.SessionID())
	assert.True(t, seen.CurrentPrincipal().IsAnonymous())

	// login sets the cookie and updates the live session
	rec = httptest.NewRecorder()
	probe.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.True(t, seen.IsSignedIn())
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	hostCookie := cookies[0]
	assert.Equal(t, "HOST", hostCookie.Name)
	firstID := seen.SessionID()

	// the cookie resolves on the next request
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(hostCookie)
	probe.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, seen.IsSignedIn())
	assert.Equal(t, firstID, seen.SessionID())
	assert.Equal(t, "alice", seen.CurrentPrincipal().Username)

	// logout revokes it
	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(hostCookie)
	probe.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, seen.IsSignedIn())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(hostCookie)
	probe.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, seen.IsSignedIn())
}

func TestSessionManager_ExpiredAndDisabled(t *testing.T) {
	f := newFixture(t)
	bob := f.account(t, "bob", "pw")
	mgr := NewSessionManager(f.accounts, f.sessions, SessionOptions{TTL: time.Minute})
	ctx := context.Background()

	rec := httptest.NewRecorder()
	s := mgr.Load(ctx, rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, s.Login(ctx, &AuthResult{AccountID: bob.ID, Principal: principalFromAccount(bob)}))
	cookie := rec.Result().Cookies()[0]

	withCookie := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(cookie)
		return r
	}

	assert.True(t, mgr.Load(ctx, httptest.NewRecorder(), withCookie()).IsSignedIn())

	mgr.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.False(t, mgr.Load(ctx, httptest.NewRecorder(), withCookie()).IsSignedIn())

	mgr.now = time.Now
	require.NoError(t, f.accounts.SetDisabled(ctx, bob.ID, true))
	assert.False(t, mgr.Load(ctx, httptest.NewRecorder(), withCookie()).IsSignedIn())
}

// failingTouch fails UpdateLastUsed and records the deadline it was given.
type failingTouch struct {
	*repository.BunHostSessionRepository
	deadline chan bool
}

func (f failingTouch) UpdateLastUsed(ctx context.Context, _ string) error {
	_, ok := ctx.Deadline()
	f.deadline <- ok
	return errors.New("store unavailable")
}

func TestSessionManager_TouchIsBoundedAndLogged(t *testing.T) {
	f := newFixture(t)
	sessions := failingTouch{BunHostSessionRepository: f.sessions, deadline: make(chan bool, 1)}
	mgr := NewSessionManager(f.accounts, sessions, SessionOptions{})

	hook := logtest.NewGlobal()
	defer hook.Reset()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(level)

	mgr.touch("sess-1")

	assert.True(t, <-sessions.deadline)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "sess-1", entry.Data["session_id"])
}

func TestSessionFromContext_DefaultsToSignedOut(t *testing.T) {
	s := SessionFromContext(context.Background())
	assert.False(t, s.IsSignedIn())
	assert.True(t, s.CurrentPrincipal().IsAnonymous())
	assert.ErrorIs(t, s.Login(context.Background(), &AuthResult{}), ErrNoSessionContainer)
}

func TestCasbinAuthorizer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.account(t, "alice", "")
	bob := f.account(t, "bob", "")
	require.NoError(t, f.projects.Create(ctx, &models.Project{Name: "core"}))
	require.NoError(t, f.projects.Create(ctx, &models.Project{Name: "docs"}))

	authz, err := NewCasbinAuthorizer(f.db, f.projects)
	require.NoError(t, err)

	alicePrincipal := principalFromAccount(alice)
	bobPrincipal := principalFromAccount(bob)
	core := Resource{Kind: KindProject, Project: "core"}
	docs := Resource{Kind: KindProject, Project: "docs"}

	check := func(p *Principal, res Resource, action Action) bool {
		t.Helper()
		ok, err := authz.Check(ctx, p, res, action)
		require.NoError(t, err)
		return ok
	}

	t.Run("unknown project", func(t *testing.T) {
		_, err := authz.Check(ctx, alicePrincipal, Resource{Kind: KindProject, Project: "missing"}, ActionRead)
		assert.ErrorIs(t, err, ErrNoSuchProject)
	})

	t.Run("seeded registered-user rules", func(t *testing.T) {
		assert.True(t, check(alicePrincipal, core, ActionRead))
		assert.True(t, check(alicePrincipal, core, ActionUploadPack))
		assert.False(t, check(alicePrincipal, core, ActionReceivePack))
		assert.False(t, check(Anonymous(), core, ActionRead))
	})

	t.Run("per-user grant", func(t *testing.T) {
		_, err := authz.Grant(alicePrincipal.Subject(), "project:core", ActionReceivePack, "")
		require.NoError(t, err)
		assert.True(t, check(alicePrincipal, core, ActionReceivePack))
		assert.False(t, check(bobPrincipal, core, ActionReceivePack))
	})

	t.Run("group membership", func(t *testing.T) {
		_, err := authz.AddMember(bobPrincipal.Subject(), "group:maintainers")
		require.NoError(t, err)
		_, err = authz.Grant("group:maintainers", "project:docs", ActionReceivePack, "")
		require.NoError(t, err)
		assert.True(t, check(bobPrincipal, docs, ActionReceivePack))
		assert.False(t, check(alicePrincipal, docs, ActionReceivePack))
	})

	t.Run("anonymous grant", func(t *testing.T) {
		_, err := authz.Grant(GroupAnonymousUsers, "project:docs", ActionRead, "")
		require.NoError(t, err)
		assert.True(t, check(Anonymous(), docs, ActionRead))
		assert.False(t, check(Anonymous(), core, ActionRead))
	})

	t.Run("conditional deny wins", func(t *testing.T) {
		_, err := authz.Deny(GroupRegisteredUsers, "ref:core:*", ActionRead, `ref == "refs/heads/secret"`)
		require.NoError(t, err)
		assert.False(t, check(alicePrincipal, Resource{Kind: KindRef, Project: "core", Ref: "refs/heads/secret"}, ActionRead))
		assert.True(t, check(alicePrincipal, Resource{Kind: KindRef, Project: "core", Ref: "refs/heads/main"}, ActionRead))
	})

	t.Run("rules persist across reload", func(t *testing.T) {
		fresh, err := NewCasbinAuthorizer(f.db, f.projects)
		require.NoError(t, err)
		ok, err := fresh.Check(ctx, alicePrincipal, core, ActionReceivePack)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = authz.Revoke(alicePrincipal.Subject(), "project:core")
		require.NoError(t, err)
		require.NoError(t, fresh.Reload())
		ok, err = fresh.Check(ctx, alicePrincipal, core, ActionReceivePack)
		require.NoError(t, err)
		assert.False(t, ok)

		rules, err := fresh.Rules(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, rules)
	})
}

func TestEvaluateCondition(t *testing.T) {
	attrs := map[string]any{"project": "core", "ref": "refs/heads/main", "kind": "ref", "action": "read"}
	assert.True(t, evaluateCondition("", attrs))
	assert.True(t, evaluateCondition(`project == "core"`, attrs))
	assert.False(t, evaluateCondition(`project == "docs"`, attrs))
	assert.False(t, evaluateCondition(`this is not bexpr ((`, attrs))
}

func TestHandlers_Login(t *testing.T) {
	f := newFixture(t)
	f.account(t, "alice", "pw")
	mgr := NewSessionManager(f.accounts, f.sessions, SessionOptions{CookieName: "HOST"})
	h := NewHandlers(NewAccountVerifier(f.accounts))
	login := mgr.Middleware(http.HandlerFunc(h.Login))

	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		login.ServeHTTP(rec, req)
		return rec
	}

	rec := post(url.Values{"username": {"alice"}, "password": {"bad"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = post(url.Values{"username": {"alice"}, "password": {"pw"}, "return": {"//evil.example.com"}})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.Len(t, rec.Result().Cookies(), 1)

	rec = post(url.Values{"username": {"alice"}, "password": {"pw"}, "return": {"/plugins/viewer/"}})
	assert.Equal(t, "/plugins/viewer/", rec.Header().Get("Location"))
}
