package host

import "context"

// AuthResult is a successful credential check.
type AuthResult struct {
	AccountID int64
	Principal *Principal
}

// Session is the ambient host web session of one request.
type Session interface {
	IsSignedIn() bool
	// SessionID is an opaque identifier of the current sign-in, or "".
	SessionID() string
	CurrentPrincipal() *Principal
	// Login binds result to the session, replacing any previous sign-in.
	Login(ctx context.Context, result *AuthResult) error
	Logout(ctx context.Context) error
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the request's host session. Requests that did
// not pass through SessionManager.Middleware get a signed-out session.
func SessionFromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok && s != nil {
		return s
	}
	return signedOut{}
}

type signedOut struct{}

func (signedOut) IsSignedIn() bool                         { return false }
func (signedOut) SessionID() string                        { return "" }
func (signedOut) CurrentPrincipal() *Principal             { return Anonymous() }
func (signedOut) Login(context.Context, *AuthResult) error { return ErrNoSessionContainer }
func (signedOut) Logout(context.Context) error             { return nil }

// SessionRef adapts a Session to PrincipalRef.
type SessionRef struct{ S Session }

// Principal implements PrincipalRef.
func (r SessionRef) Principal() *Principal { return r.S.CurrentPrincipal() }
