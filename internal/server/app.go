package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/config"
	"github.com/terraconstructs/viewbridge/internal/guard"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	vbmiddleware "github.com/terraconstructs/viewbridge/internal/middleware"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"github.com/terraconstructs/viewbridge/internal/viewer"
	"github.com/uptrace/bun"
)

// App is the assembled service.
type App struct {
	Handler    http.Handler
	Component  *viewer.Component
	Authorizer *host.CasbinAuthorizer
	Sessions   *httpsession.Store
	Metrics    *telemetry.Metrics
}

// NewApp wires the host store, the bridge and the viewer from cfg. reg
// receives the Prometheus collectors and backs /metrics.
func NewApp(cfg *config.Config, db *bun.DB, reg *prometheus.Registry) (*App, error) {
	metrics := telemetry.NewMetrics(reg)
	secure := strings.HasPrefix(cfg.ServerURL, "https://")

	accounts := repository.NewBunAccountRepository(db)
	hostSessions := repository.NewBunHostSessionRepository(db)
	projects := repository.NewBunProjectRepository(db)

	authz, err := host.NewCasbinAuthorizer(db, projects)
	if err != nil {
		return nil, fmt.Errorf("create authorizer: %w", err)
	}
	verifier := host.NewAccountVerifier(accounts)
	sessionManager := host.NewSessionManager(accounts, hostSessions, host.SessionOptions{
		CookieName: cfg.Host.CookieName,
		TTL:        cfg.Host.SessionTTL,
		Secure:     secure,
	})

	pluginPath := auth.PluginPath(cfg.CanonicalPluginURL(), cfg.PluginName)
	perms := auth.NewPermissionDelegate(authz, metrics)
	cookies := auth.NewCookieManager(auth.CookieOptions{
		Name:    cfg.Auth.CookieName,
		Path:    pluginPath,
		MaxAge:  cfg.Auth.CookieMaxAge,
		Enabled: cfg.Auth.AllowCookieAuth,
		Secure:  secure,
	})
	bridge := auth.NewBridge(verifier, auth.NewHostAnonymousProvider(perms), perms, cookies, metrics, auth.BridgeOptions{
		BasicTimeout:      cfg.Auth.BasicTimeout,
		HostCanonicalURL:  cfg.Host.CanonicalURL,
		ExternalLogoutURL: cfg.Host.LogoutURL,
	})

	gens := viewer.NewGenerations()
	store := viewer.NewStore(gens)
	g := guard.New(gens, store, metrics)
	component := viewer.NewComponent(viewer.ComponentOptions{
		Name:        cfg.PluginName,
		Generations: gens,
		Store:       store,
		Reader:      g,
		Projects:    projects,
		Bridge:      bridge,
		Metrics:     metrics,
	})

	sessions := httpsession.NewStore(httpsession.Options{
		CookieName:  cfg.Session.CookieName,
		Path:        pluginPath,
		TTL:         cfg.Session.TTL,
		MaxSessions: cfg.Session.MaxSessions,
		Secure:      secure,
	})

	router := NewRouter(RouterOptions{
		PluginPath:        pluginPath,
		Realm:             cfg.Realm,
		AnonymousBrowsing: cfg.Auth.AnonymousBrowsing,
		HostSessions:      sessionManager,
		HostHandlers:      host.NewHandlers(verifier),
		Sessions:          sessions,
		Gatekeeper:        vbmiddleware.NewGatekeeper(bridge, g, cfg.Realm),
		Component:         component,
		Projects:          projects,
		Metrics:           metrics,
		Gatherer:          reg,
	})

	log.WithFields(log.Fields{
		"plugin_path":        pluginPath,
		"realm":              cfg.Realm,
		"anonymous_browsing": cfg.Auth.AnonymousBrowsing,
		"cookie_auth":        cfg.Auth.AllowCookieAuth,
	}).Info("viewbridge assembled")

	return &App{
		Handler:    router,
		Component:  component,
		Authorizer: authz,
		Sessions:   sessions,
		Metrics:    metrics,
	}, nil
}
