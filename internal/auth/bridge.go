package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Reason explains a rejection. It is logged, never sent to the client.
type Reason string

const (
	ReasonNoCredentials        Reason = "no-credentials"
	ReasonMalformedCredentials Reason = "malformed-credentials"
	ReasonInvalidCredentials   Reason = "invalid-credentials"
	ReasonBackendUnavailable   Reason = "backend-unavailable"
)

// Rejection is a definitive authentication failure.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string { return "authentication rejected: " + string(r.Reason) }

// IsRejection reports whether err is a *Rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

// DefaultBasicTimeout bounds host credential verification.
const DefaultBasicTimeout = 10 * time.Second

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	BasicTimeout time.Duration

	// HostCanonicalURL is where logout redirects when set.
	HostCanonicalURL string
	// ExternalLogoutURL is the redirect target otherwise.
	ExternalLogoutURL string
}

// Bridge derives viewer identities from host credentials.
type Bridge struct {
	verifier  host.Verifier
	anonymous AnonymousIdentityProvider
	perms     *PermissionDelegate
	cookies   *CookieManager
	metrics   *telemetry.Metrics
	opts      BridgeOptions
}

// NewBridge wires the bridge to the host verifier and permission delegate.
func NewBridge(verifier host.Verifier, anonymous AnonymousIdentityProvider, perms *PermissionDelegate, cookies *CookieManager, metrics *telemetry.Metrics, opts BridgeOptions) *Bridge {
	if opts.BasicTimeout <= 0 {
		opts.BasicTimeout = DefaultBasicTimeout
	}
	if metrics == nil {
		metrics = telemetry.Discard()
	}
	return &Bridge{
		verifier:  verifier,
		anonymous: anonymous,
		perms:     perms,
		cookies:   cookies,
		metrics:   metrics,
		opts:      opts,
	}
}

// Authenticate resolves c to an identity or returns a *Rejection. The host
// session is taken from ctx.
func (b *Bridge) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	ctx, span := telemetry.StartSpan(ctx, "viewbridge/auth", "auth.Authenticate",
		attribute.String(telemetry.AttrCredentialKind, c.Kind.String()),
	)
	defer span.End()
	start := time.Now()

	var (
		id  *Identity
		err error
	)
	switch c.Kind {
	case KindDelegatedToken:
		id, err = b.fromSession(ctx, c)
	case KindBasic:
		id, err = b.fromPassword(ctx, c)
	case KindAnonymous:
		id = b.anonymous.Anonymous()
	default:
		if c.Malformed {
			err = &Rejection{Reason: ReasonMalformedCredentials}
		} else {
			err = &Rejection{Reason: ReasonNoCredentials}
		}
	}

	outcome := "success"
	if rej, ok := IsRejection(err); ok {
		outcome = string(rej.Reason)
		span.SetAttributes(attribute.String(telemetry.AttrAuthOutcome, outcome))
	} else if err == nil {
		span.SetAttributes(attribute.String(telemetry.AttrPrincipalName, id.Name()))
	}
	b.metrics.Authentications.WithLabelValues(c.Kind.String(), outcome).Inc()
	b.metrics.AuthDuration.WithLabelValues(c.Kind.String()).Observe(time.Since(start).Seconds())

	return id, err
}

func (b *Bridge) fromSession(ctx context.Context, c Credentials) (*Identity, error) {
	s := host.SessionFromContext(ctx)
	current := s.SessionID()

	if current == "" || subtle.ConstantTimeCompare([]byte(current), []byte(c.Secret)) != 1 {
		log.WithField("username", c.Username).Warn("host session token does not match the current session")
		return nil, &Rejection{Reason: ReasonInvalidCredentials}
	}
	if !s.IsSignedIn() {
		log.Warn("host session is not signed in")
		return nil, &Rejection{Reason: ReasonInvalidCredentials}
	}

	p := s.CurrentPrincipal()
	if p.IsAnonymous() {
		log.Warn("host session resolved to the anonymous principal")
		return nil, &Rejection{Reason: ReasonInvalidCredentials}
	}
	if p.Username != "" && p.Username != c.Username {
		log.WithField("username", c.Username).Warn("host session is assigned to a different user")
		return nil, &Rejection{Reason: ReasonInvalidCredentials}
	}

	return namedIdentity(p, host.SessionRef{S: s}, b.perms, c.Secret), nil
}

type verifyResult struct {
	result *host.AuthResult
	err    error
}

func (b *Bridge) fromPassword(ctx context.Context, c Credentials) (*Identity, error) {
	if c.Username == "" || c.Secret == "" {
		log.WithField("username", c.Username).Warn("basic authentication with empty username or password")
		return nil, &Rejection{Reason: ReasonInvalidCredentials}
	}

	result, err := b.verify(ctx, c.Username, c.Secret)
	if err != nil {
		if errors.Is(err, host.ErrAuthenticationFailed) {
			log.WithField("username", c.Username).Warn("basic authentication failed")
			return nil, &Rejection{Reason: ReasonInvalidCredentials}
		}
		log.WithError(err).WithField("username", c.Username).Warn("credential backend unavailable, denying")
		return nil, &Rejection{Reason: ReasonBackendUnavailable}
	}

	s := host.SessionFromContext(ctx)
	var ref host.PrincipalRef = host.FixedPrincipal{P: result.Principal}
	if err := s.Login(ctx, result); err != nil {
		log.WithError(err).WithField("username", c.Username).Warn("could not bind basic login to the host session")
	} else {
		ref = host.SessionRef{S: s}
		log.WithField("username", c.Username).Info("logged in via basic authentication")
	}

	return namedIdentity(result.Principal, ref, b.perms, c.Secret), nil
}

// verify calls the host verifier under the basic timeout. A verifier that
// ignores cancellation is abandoned when the timeout fires.
func (b *Bridge) verify(ctx context.Context, username, password string) (*host.AuthResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "viewbridge/auth", "host.Verify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, b.opts.BasicTimeout)
	defer cancel()

	done := make(chan verifyResult, 1)
	go func() {
		r, err := b.verifier.Verify(ctx, username, password)
		done <- verifyResult{r, err}
	}()

	select {
	case <-ctx.Done():
		err := fmt.Errorf("credential verification: %w", ctx.Err())
		telemetry.RecordError(span, err)
		return nil, err
	case res := <-done:
		if res.err == nil && (res.result == nil || res.result.Principal.IsAnonymous()) {
			return nil, host.ErrAuthenticationFailed
		}
		if res.err != nil && !errors.Is(res.err, host.ErrAuthenticationFailed) {
			telemetry.RecordError(span, res.err)
		}
		return res.result, res.err
	}
}

// Anonymous returns the injected anonymous identity.
func (b *Bridge) Anonymous() *Identity { return b.anonymous.Anonymous() }

// Cookies returns the remember-me cookie manager.
func (b *Bridge) Cookies() *CookieManager { return b.cookies }

// Logout signs the host session out and clears the remember-me cookie.
func (b *Bridge) Logout(ctx context.Context, w http.ResponseWriter) {
	if err := host.SessionFromContext(ctx).Logout(ctx); err != nil {
		log.WithError(err).Warn("host logout failed")
	}
	b.cookies.Clear(w)
}

// LogoutRedirect returns where the browser should go to finish logging out.
// With a host canonical URL the host's own logout page performs the logout;
// otherwise the bridge logs out locally and returns the external logout URL.
func (b *Bridge) LogoutRedirect(ctx context.Context, w http.ResponseWriter) string {
	if u := b.opts.HostCanonicalURL; u != "" {
		b.cookies.Clear(w)
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		return u + "logout"
	}
	log.Warn("host canonical URL not configured, logging out locally")
	b.Logout(ctx, w)
	return b.opts.ExternalLogoutURL
}
