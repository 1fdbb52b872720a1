package auth

import "context"

type credentialsKey struct{}
type identityKey struct{}
type requestedPrincipalKey struct{}

// WithCredentials stores the classified credentials on the request context so
// later stages never parse headers again.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

// CredentialsFromContext returns the credentials stored by WithCredentials.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(credentialsKey{}).(Credentials)
	return c, ok
}

// WithIdentity attaches the resolved identity to the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the request identity, or nil when none was
// resolved. A nil identity means anonymous to the viewer.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// WithRequestedPrincipal records that the request asks to act as the named
// principal. Only AnonymousUsername is honoured.
func WithRequestedPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, requestedPrincipalKey{}, name)
}

// RequestedPrincipal returns the name set by WithRequestedPrincipal.
func RequestedPrincipal(ctx context.Context) string {
	s, _ := ctx.Value(requestedPrincipalKey{}).(string)
	return s
}
