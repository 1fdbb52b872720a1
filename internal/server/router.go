package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	vbmiddleware "github.com/terraconstructs/viewbridge/internal/middleware"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"github.com/terraconstructs/viewbridge/internal/viewer"
)

// RouterOptions controls the construction of the HTTP router.
type RouterOptions struct {
	// PluginPath is where the viewer is mounted, e.g. /plugins/viewer/
	PluginPath string
	Realm      string

	// AnonymousBrowsing admits requests without credentials as the host's
	// anonymous user.
	AnonymousBrowsing bool

	HostSessions *host.SessionManager
	HostHandlers *host.Handlers
	Sessions     *httpsession.Store
	Gatekeeper   *vbmiddleware.Gatekeeper
	Component    *viewer.Component
	Projects     repository.ProjectRepository

	Metrics     *telemetry.Metrics
	Gatherer    prometheus.Gatherer
	CORSOptions *cors.Options
	Middleware  []func(http.Handler) http.Handler

	HealthHandler http.HandlerFunc
}

// DefaultCORSOptions returns the development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles the host endpoints and mounts the viewer behind the
// gatekeeper.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(vbmiddleware.Metrics(opts.Metrics))
	}

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.HostSessions == nil {
		log.Warn("no host session manager configured; viewer and host endpoints not mounted")
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(opts.HostSessions.Middleware)

		if opts.HostHandlers != nil {
			r.Get("/login", opts.HostHandlers.LoginForm)
			r.Post("/login", opts.HostHandlers.Login)
			r.Get("/logout", opts.HostHandlers.Logout)
			r.Post("/logout", opts.HostHandlers.Logout)
		}

		if opts.Component != nil && opts.Gatekeeper != nil {
			mount := strings.TrimSuffix(opts.PluginPath, "/")
			if mount == "" {
				mount = "/plugins/" + opts.Component.Name()
			}
			r.Route(mount, func(r chi.Router) {
				r.Use(opts.Sessions.Middleware)
				if opts.AnonymousBrowsing {
					r.Use(vbmiddleware.RequestAnonymous)
				}
				r.Use(opts.Gatekeeper.Handler)
				r.Mount("/", opts.Component.Routes(
					vbmiddleware.RepositoryGate(opts.Realm, opts.Projects, viewer.RepositoryName),
				))
			})
			log.WithField("path", mount+"/").Info("viewer mounted")
		}
	})

	return r
}
