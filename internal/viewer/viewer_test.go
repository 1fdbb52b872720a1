package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
)

type memProjects struct {
	byName map[string]models.Project
}

func newMemProjects(names ...string) *memProjects {
	m := &memProjects{byName: map[string]models.Project{}}
	for _, n := range names {
		m.byName[n] = models.Project{Name: n, Description: n + " repository"}
	}
	return m
}

func (m *memProjects) Create(_ context.Context, p *models.Project) error {
	m.byName[p.Name] = *p
	return nil
}

func (m *memProjects) Get(_ context.Context, name string) (*models.Project, error) {
	p, ok := m.byName[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *memProjects) Exists(_ context.Context, name string) (bool, error) {
	_, ok := m.byName[name]
	return ok, nil
}

func (m *memProjects) List(context.Context) ([]models.Project, error) {
	out := make([]models.Project, 0, len(m.byName))
	for _, p := range m.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memProjects) Delete(_ context.Context, name string) error {
	delete(m.byName, name)
	return nil
}

// ruleAuthorizer lets registered users read everything except "secret"
// and push nowhere; refs under refs/heads/private are hidden.
type ruleAuthorizer struct{}

func (ruleAuthorizer) Check(_ context.Context, p *host.Principal, res host.Resource, action host.Action) (bool, error) {
	if p.IsAnonymous() {
		return res.Project == "public" && action == host.ActionRead, nil
	}
	if res.Project == "secret" || action == host.ActionReceivePack {
		return false, nil
	}
	if res.Kind == host.KindRef {
		return res.Ref != "refs/heads/private", nil
	}
	return true, nil
}

var alice = &host.Principal{AccountID: 7, Username: "alice", FullName: "Alice", Identified: true}

type fixture struct {
	comp    *Component
	bridge  *auth.Bridge
	gens    *Generations
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	perms := auth.NewPermissionDelegate(ruleAuthorizer{}, nil)
	verifier := verifierFunc(func(context.Context, string, string) (*host.AuthResult, error) {
		return &host.AuthResult{AccountID: alice.AccountID, Principal: alice}, nil
	})
	bridge := auth.NewBridge(verifier, auth.NewHostAnonymousProvider(perms), perms,
		auth.NewCookieManager(auth.CookieOptions{Enabled: true}), nil,
		auth.BridgeOptions{HostCanonicalURL: "https://review.example.com"})
	gens := NewGenerations()
	metrics := telemetry.Discard()
	comp := NewComponent(ComponentOptions{
		Name:        "viewer",
		Generations: gens,
		Projects:    newMemProjects("core", "public", "secret"),
		Bridge:      bridge,
		Metrics:     metrics,
	})
	return &fixture{comp: comp, bridge: bridge, gens: gens, metrics: metrics}
}

type verifierFunc func(ctx context.Context, username, password string) (*host.AuthResult, error)

func (f verifierFunc) Verify(ctx context.Context, username, password string) (*host.AuthResult, error) {
	return f(ctx, username, password)
}

// serve runs a request through the session store and, when authenticated,
// attaches alice's identity.
func (f *fixture) serve(t *testing.T, st *httpsession.Store, method, path string, authenticated bool, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var h http.Handler = f.comp.Routes(nil)
	inner := h
	h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authenticated {
			id, err := f.bridge.Authenticate(r.Context(), auth.Credentials{Kind: auth.KindBasic, Username: "alice", Secret: "pw"})
			require.NoError(t, err)
			r = r.WithContext(auth.WithIdentity(r.Context(), id))
		}
		inner.ServeHTTP(w, r)
	})
	h = st.Middleware(h)

	req := httptest.NewRequest(method, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerations_MintIsUnique(t *testing.T) {
	g := NewGenerations()
	seen := map[Generation]bool{g.Current(): true}
	for i := 0; i < 100; i++ {
		next := g.Mint()
		assert.False(t, seen[next])
		assert.Equal(t, next, g.Current())
		seen[next] = true
	}
	assert.False(t, g.MintedAt().IsZero())
}

func TestStore_LoadDetectsStaleObjects(t *testing.T) {
	gens := NewGenerations()
	store := NewStore(gens)
	s := httpsession.NewStore(httpsession.Options{}).Create()

	store.Put(s, "n", 1)
	v, ok, err := Load[int](store, s, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, _, err = Load[string](store, s, "n")
	assert.ErrorIs(t, err, ErrStaleObject)

	gens.Mint()
	_, _, err = Load[int](store, s, "n")
	assert.ErrorIs(t, err, ErrStaleObject)

	s.Set(AttrPrefix+"raw", 5)
	_, _, err = Load[int](store, s, "raw")
	assert.ErrorIs(t, err, ErrStaleObject)

	_, ok, err = Load[int](store, s, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestComponent_WebSessionBindingIsCounted(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})
	s := st.Create()

	ws, err := f.comp.WebSession(s)
	require.NoError(t, err)
	again, err := f.comp.WebSession(s)
	require.NoError(t, err)
	assert.Same(t, ws, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ViewerSessions))

	st.Invalidate(s)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ViewerSessions))
}

func TestComponent_WebSessionOnInvalidatedSession(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})
	s := st.Create()
	st.Invalidate(s)

	ws, err := f.comp.WebSession(s)
	assert.ErrorIs(t, err, httpsession.ErrInvalidated)
	assert.Nil(t, ws)

	fresh, err := f.comp.ReplaceWebSession(s)
	assert.ErrorIs(t, err, httpsession.ErrInvalidated)
	assert.NotNil(t, fresh)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ViewerSessions))
}

func TestComponent_ReloadMintsGeneration(t *testing.T) {
	f := newFixture(t)
	before := f.comp.Generation()
	after := f.comp.Reload()
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, f.gens.Current())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ComponentReloads))
}

func TestHandlers_IndexListsVisibleRepositories(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})

	rec := f.serve(t, st, http.MethodGet, "/", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var view indexView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "alice", view.Identity.Name)
	assert.True(t, view.Identity.Authenticated)
	assert.Equal(t, f.gens.Current(), view.Generation)
	require.Len(t, view.Repositories, 2)
	assert.Equal(t, "core", view.Repositories[0].Name)
	assert.True(t, view.Repositories[0].CanClone)
	assert.False(t, view.Repositories[0].CanPush)

	rec = f.serve(t, st, http.MethodGet, "/", false)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, auth.AnonymousUsername, view.Identity.Name)
	require.Len(t, view.Repositories, 1)
	assert.Equal(t, "public", view.Repositories[0].Name)
}

func TestHandlers_RepositoryAndRefs(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})

	rec := f.serve(t, st, http.MethodGet, "/r/core.git", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var repo repositoryView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&repo))
	assert.Equal(t, "core", repo.Name)

	rec = f.serve(t, st, http.MethodGet, "/r/missing", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.serve(t, st, http.MethodGet, "/r/core/refs/heads/main", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.serve(t, st, http.MethodGet, "/r/core/refs/heads/private", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var ref refView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ref))
	assert.Equal(t, "refs/heads/private", ref.Ref)
	assert.False(t, ref.Visible)
}

func TestSyncSession_HostLogoutResetsViewerUser(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})

	rec := f.serve(t, st, http.MethodGet, "/r/core", true)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	s, ok := st.Lookup(cookies[0].Value)
	require.True(t, ok)
	ws, err := f.comp.WebSession(s)
	require.NoError(t, err)
	assert.Equal(t, "alice", ws.User())
	assert.Equal(t, "core", ws.LastRepository())

	f.serve(t, st, http.MethodGet, "/", false, cookies[0])
	assert.Empty(t, ws.User())

	fresh, err := f.comp.WebSession(s)
	require.NoError(t, err)
	assert.NotSame(t, ws, fresh)
	assert.False(t, fresh.LoggedIn())
}

func TestHandlers_Logout(t *testing.T) {
	f := newFixture(t)
	st := httpsession.NewStore(httpsession.Options{})

	rec := f.serve(t, st, http.MethodGet, "/", true)
	session := rec.Result().Cookies()[0]

	rec = f.serve(t, st, http.MethodPost, "/logout", true, session)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://review.example.com/logout", rec.Header().Get("Location"))
	_, ok := st.Lookup(session.Value)
	assert.False(t, ok)
}

func TestRepositoryName(t *testing.T) {
	r := chi.NewRouter()
	var got string
	r.Get("/r/{repo}", func(_ http.ResponseWriter, r *http.Request) { got = RepositoryName(r) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/r/tools%2Fcore.git", nil))
	assert.Equal(t, "tools/core", got)
}
