package viewer

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
)

type identityView struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Email         string `json:"email,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

type repositoryView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CanClone    bool   `json:"canClone"`
	CanPush     bool   `json:"canPush"`
}

type indexView struct {
	Identity       identityView     `json:"identity"`
	Generation     Generation       `json:"generation"`
	LastRepository string           `json:"lastRepository,omitempty"`
	Repositories   []repositoryView `json:"repositories"`
}

type refView struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	Visible    bool   `json:"visible"`
}

// RepositoryName returns the {repo} route parameter, unescaped and without
// a trailing .git.
func RepositoryName(r *http.Request) string {
	raw := chi.URLParam(r, "repo")
	if name, err := url.PathUnescape(raw); err == nil {
		raw = name
	}
	return auth.StripDotGit(raw)
}

// Routes returns the viewer's handlers. gate guards every per-repository
// route.
func (c *Component) Routes(gate func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(c.SyncSession)

	r.Get("/", c.handleIndex)
	r.Post("/logout", c.handleLogout)
	r.Route("/r/{repo}", func(r chi.Router) {
		if gate != nil {
			r.Use(gate)
		}
		r.Get("/", c.handleRepository)
		r.Get("/refs/*", c.handleRef)
	})
	return r
}

// SyncSession aligns the WebSession with the request identity. A viewer
// session that still holds a user after the host signed out is replaced.
func (c *Component) SyncSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := httpsession.FromContext(r.Context(), true)
		if s == nil {
			next.ServeHTTP(w, r)
			return
		}
		ws, err := c.WebSession(s)
		if err != nil {
			log.WithError(err).Warn("viewer session unavailable, starting a fresh one")
			if ws, err = c.ReplaceWebSession(s); err != nil {
				log.WithError(err).WithField("session", s.ID()).Warn("fresh viewer session not stored")
			}
		}

		id := c.identity(r)
		hostSignedIn := host.SessionFromContext(r.Context()).IsSignedIn()
		switch {
		case ws.LoggedIn() && !id.IsAuthenticated() && !hostSignedIn:
			log.WithField("user", ws.User()).Info("host session ended, resetting viewer session")
			ws.Reset()
			if _, err := c.ReplaceWebSession(s); err != nil {
				log.WithError(err).WithField("session", s.ID()).Warn("fresh viewer session not stored")
			}
		case id.IsAuthenticated() && ws.User() != id.Name():
			ws.SetUser(id.Name())
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Component) identity(r *http.Request) *auth.Identity {
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		return id
	}
	return c.bridge.Anonymous()
}

func (c *Component) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := c.identity(r)

	projects, err := c.projects.List(ctx)
	if err != nil {
		log.WithError(err).Error("list projects")
		http.Error(w, "Failed to list repositories", http.StatusInternalServerError)
		return
	}

	view := indexView{
		Identity:     newIdentityView(id),
		Generation:   c.gens.Current(),
		Repositories: []repositoryView{},
	}
	for _, p := range projects {
		if !id.CanView(ctx, p.Name) {
			continue
		}
		view.Repositories = append(view.Repositories, repositoryView{
			Name:        p.Name,
			Description: p.Description,
			CanClone:    id.CanClone(ctx, p.Name),
			CanPush:     id.CanPush(ctx, p.Name),
		})
	}
	if s := httpsession.FromContext(ctx, false); s != nil {
		if ws, err := c.WebSession(s); err == nil {
			view.LastRepository = ws.LastRepository()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (c *Component) handleRepository(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := c.identity(r)
	name := RepositoryName(r)

	p, err := c.projects.Get(ctx, name)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if s := httpsession.FromContext(ctx, false); s != nil {
		if ws, err := c.WebSession(s); err == nil {
			ws.setLastRepository(name)
		}
	}
	writeJSON(w, http.StatusOK, repositoryView{
		Name:        p.Name,
		Description: p.Description,
		CanClone:    id.CanClone(ctx, name),
		CanPush:     id.CanPush(ctx, name),
	})
}

func (c *Component) handleRef(w http.ResponseWriter, r *http.Request) {
	id := c.identity(r)
	name := RepositoryName(r)
	ref := "refs/" + chi.URLParam(r, "*")

	view := refView{Repository: name, Ref: ref, Visible: id.CanViewRef(r.Context(), name, ref)}
	if !view.Visible {
		writeJSON(w, http.StatusForbidden, view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (c *Component) handleLogout(w http.ResponseWriter, r *http.Request) {
	target := c.bridge.LogoutRedirect(r.Context(), w)
	httpsession.Invalidate(r.Context())
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func newIdentityView(id *auth.Identity) identityView {
	return identityView{
		Name:          id.Name(),
		DisplayName:   id.DisplayName(),
		Email:         id.Email(),
		Authenticated: id.IsAuthenticated(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("encode response")
	}
}
