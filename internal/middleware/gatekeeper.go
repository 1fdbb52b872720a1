package middleware

import (
	"context"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/auth"
	"github.com/terraconstructs/viewbridge/internal/guard"
	"github.com/terraconstructs/viewbridge/internal/httpsession"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Reconciler brings an HTTP session in line with the live component
// generation.
type Reconciler interface {
	Reconcile(s *httpsession.Session) (guard.State, error)
}

// Gatekeeper is the single entry point for requests to the viewer.
//
// Each request is:
//  1. classified into exactly one credential kind
//  2. authenticated against the host, or answered with a 401 challenge
//  3. reconciled with the live component generation
//  4. handed to the viewer with the Identity on its context
type Gatekeeper struct {
	bridge *auth.Bridge
	guard  Reconciler
	realm  string
}

// NewGatekeeper creates the gatekeeper.
func NewGatekeeper(bridge *auth.Bridge, guard Reconciler, realm string) *Gatekeeper {
	return &Gatekeeper{bridge: bridge, guard: guard, realm: realm}
}

// Handler wraps next. next is never invoked for a rejected request.
func (g *Gatekeeper) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := auth.Classify(r)
		ctx := auth.WithCredentials(r.Context(), creds)

		id, err := g.bridge.Authenticate(ctx, creds)
		if err != nil {
			g.reject(w, r, creds, err)
			return
		}

		if s := httpsession.FromContext(ctx, true); s != nil {
			g.reconcile(ctx, s)
		}

		if creds.Kind == auth.KindBasic {
			cookies := g.bridge.Cookies()
			if cookies.Enabled() && cookies.Value(r) != id.CookieHash() {
				cookies.Set(w, id)
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(ctx, id)))
	})
}

func (g *Gatekeeper) reconcile(ctx context.Context, s *httpsession.Session) {
	state, err := g.guard.Reconcile(s)
	if err != nil {
		log.WithError(err).Info("session ended during reconcile, starting a new one")
		if s = httpsession.Renew(ctx); s == nil {
			return
		}
		if state, err = g.guard.Reconcile(s); err != nil {
			log.WithError(err).Warn("could not reconcile renewed session")
			return
		}
	}
	telemetry.AddEvent(trace.SpanFromContext(ctx), "session.reconciled",
		attribute.String(telemetry.AttrSessionState, state.String()))
}

func (g *Gatekeeper) reject(w http.ResponseWriter, r *http.Request, creds auth.Credentials, err error) {
	entry := log.WithFields(log.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"credentials": creds.String(),
	}).WithError(err)

	if rej, ok := auth.IsRejection(err); ok && rej.Reason == auth.ReasonNoCredentials {
		entry.Debug("challenging unauthenticated request")
	} else {
		entry.Warn("authentication rejected")
	}
	Challenge(w, g.realm)
}

// Challenge writes a 401 asking for Basic credentials in realm.
func Challenge(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+quoteRealm(realm)+`"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

func quoteRealm(realm string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(realm)
}

// RequestAnonymous marks requests that carry no credentials as asking for
// the anonymous principal, so the gatekeeper admits them as anonymous.
func RequestAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" && auth.RequestedPrincipal(r.Context()) == "" {
			r = r.WithContext(auth.WithRequestedPrincipal(r.Context(), auth.AnonymousUsername))
		}
		next.ServeHTTP(w, r)
	})
}
