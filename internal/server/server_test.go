package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/viewbridge/internal/config"
	"github.com/terraconstructs/viewbridge/internal/db/dbtest"
	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	srv *httptest.Server
	app *App
}

func newEnv(t *testing.T, settings map[string]any) *env {
	t.Helper()
	ctx := context.Background()
	db := dbtest.NewDB(t)

	username := "alice"
	hash, err := host.HashPassword("wonderland", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, repository.NewBunAccountRepository(db).Create(ctx, &models.Account{
		Username:     &username,
		FullName:     "Alice Liddell",
		PasswordHash: &hash,
	}))
	projects := repository.NewBunProjectRepository(db)
	require.NoError(t, projects.Create(ctx, &models.Project{Name: "core", Description: "Core"}))
	require.NoError(t, projects.Create(ctx, &models.Project{Name: "public", Description: "Public"}))

	v := viper.New()
	v.Set("database_url", "unused")
	v.Set("realm", "Test Realm")
	for k, val := range settings {
		v.Set(k, val)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)

	app, err := NewApp(cfg, db, prometheus.NewRegistry())
	require.NoError(t, err)
	_, err = app.Authorizer.Grant(host.GroupAnonymousUsers, "project:public", host.ActionRead, "")
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)
	return &env{srv: srv, app: app}
}

func (e *env) client(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func get(t *testing.T, c *http.Client, u string, user, pw string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	require.NoError(t, err)
	if user != "" {
		req.SetBasicAuth(user, pw)
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type index struct {
	Identity struct {
		Name          string `json:"name"`
		Authenticated bool   `json:"authenticated"`
	} `json:"identity"`
	Generation   string `json:"generation"`
	Repositories []struct {
		Name string `json:"name"`
	} `json:"repositories"`
}

func decodeIndex(t *testing.T, resp *http.Response) index {
	t.Helper()
	var out index
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)
	c := e.client(t)

	resp := get(t, c, e.srv.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	resp = get(t, c, e.srv.URL+"/metrics", "", "")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "viewbridge_http_requests_total")
	assert.Contains(t, string(body), `viewbridge_authentications_total{kind="none",outcome="no-credentials"} 1`)
}

func TestViewer_ChallengeThenBasic(t *testing.T) {
	e := newEnv(t, nil)
	c := e.client(t)

	resp := get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Basic realm="Test Realm"`, resp.Header.Get("WWW-Authenticate"))

	resp = get(t, c, e.srv.URL+"/plugins/viewer/", "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, c, e.srv.URL+"/plugins/viewer/", "alice", "wonderland")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	idx := decodeIndex(t, resp)
	assert.Equal(t, "alice", idx.Identity.Name)
	assert.Len(t, idx.Repositories, 2, "registered users read every project")

	// the Basic login signed the host session in; the cookie alone now suffices
	resp = get(t, c, e.srv.URL+"/plugins/viewer/r/core", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestViewer_HostLoginDelegates(t *testing.T) {
	e := newEnv(t, nil)
	c := e.client(t)

	resp, err := c.PostForm(e.srv.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"wonderland"},
		"return":   {"/plugins/viewer/"},
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeIndex(t, resp).Identity.Authenticated)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/plugins/viewer/logout", nil)
	require.NoError(t, err)
	resp, err = c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)

	resp = get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestViewer_AnonymousBrowsing(t *testing.T) {
	e := newEnv(t, map[string]any{"auth.anonymous_browsing": true})
	c := e.client(t)

	resp := get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	idx := decodeIndex(t, resp)
	assert.False(t, idx.Identity.Authenticated)
	require.Len(t, idx.Repositories, 1)
	assert.Equal(t, "public", idx.Repositories[0].Name)

	resp = get(t, c, e.srv.URL+"/plugins/viewer/r/core", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = get(t, c, e.srv.URL+"/plugins/viewer/r/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestViewer_ReloadKeepsSessionUsable(t *testing.T) {
	e := newEnv(t, nil)
	c := e.client(t)

	first := decodeIndex(t, get(t, c, e.srv.URL+"/plugins/viewer/", "alice", "wonderland"))
	e.app.Component.Reload()
	resp := get(t, c, e.srv.URL+"/plugins/viewer/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeIndex(t, resp)

	assert.NotEqual(t, first.Generation, second.Generation)
	assert.Equal(t, "alice", second.Identity.Name)
}
