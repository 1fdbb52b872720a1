package auth

import (
	"context"
	"strconv"

	"github.com/terraconstructs/viewbridge/internal/host"
)

// Identity is the viewer-facing user of one request. It never caches
// permissions: every Can* call is answered by the host at call time for
// whatever principal the held reference resolves to.
type Identity struct {
	name          string
	displayName   string
	email         string
	authenticated bool
	cookie        string

	principal host.PrincipalRef
	perms     *PermissionDelegate
}

// Name is never empty.
func (i *Identity) Name() string { return i.name }

// DisplayName falls back to Name.
func (i *Identity) DisplayName() string { return i.displayName }

func (i *Identity) Email() string { return i.email }

func (i *Identity) IsAuthenticated() bool { return i.authenticated }

func (i *Identity) IsAnonymous() bool { return !i.authenticated }

// CookieHash is the remember-me value, empty for anonymous identities.
func (i *Identity) CookieHash() string { return i.cookie }

// Principal resolves the live host principal.
func (i *Identity) Principal() *host.Principal { return i.principal.Principal() }

func (i *Identity) CanView(ctx context.Context, repo string) bool {
	return i.perms.Can(ctx, i.principal, ActionView, repo)
}

func (i *Identity) CanClone(ctx context.Context, repo string) bool {
	return i.perms.Can(ctx, i.principal, ActionClone, repo)
}

func (i *Identity) CanPush(ctx context.Context, repo string) bool {
	return i.perms.Can(ctx, i.principal, ActionPush, repo)
}

// CanViewRef requires CanView on the repository first.
func (i *Identity) CanViewRef(ctx context.Context, repo, ref string) bool {
	return i.perms.CanViewRef(ctx, i.principal, repo, ref)
}

// namedIdentity builds the identity of an identified principal. cookie is
// computed by the caller from the credential that proved the identity.
func namedIdentity(p *host.Principal, ref host.PrincipalRef, perms *PermissionDelegate, credential string) *Identity {
	name := PrincipalName(p)
	display := p.FullName
	if display == "" {
		display = name
	}
	return &Identity{
		name:          name,
		displayName:   display,
		email:         p.PreferredEmail,
		authenticated: true,
		cookie:        CookieHash(name, credential),
		principal:     ref,
		perms:         perms,
	}
}

// PrincipalName returns the username, or for unnamed external accounts a
// stable substitute: email, then full name, then "external<id>".
func PrincipalName(p *host.Principal) string {
	switch {
	case p.Username != "":
		return p.Username
	case p.PreferredEmail != "":
		return p.PreferredEmail
	case p.FullName != "":
		return p.FullName
	default:
		return "external" + strconv.FormatInt(p.AccountID, 10)
	}
}

// AnonymousIdentityProvider supplies the identity used for anonymous access.
type AnonymousIdentityProvider interface {
	Anonymous() *Identity
}

// HostAnonymousProvider wraps the host's anonymous principal so anonymous
// permission checks still go to the host.
type HostAnonymousProvider struct {
	perms *PermissionDelegate
}

// NewHostAnonymousProvider creates the default anonymous provider.
func NewHostAnonymousProvider(perms *PermissionDelegate) *HostAnonymousProvider {
	return &HostAnonymousProvider{perms: perms}
}

// Anonymous implements AnonymousIdentityProvider.
func (h *HostAnonymousProvider) Anonymous() *Identity {
	return &Identity{
		name:        AnonymousUsername,
		displayName: "Anonymous",
		principal:   host.FixedPrincipal{P: host.Anonymous()},
		perms:       h.perms,
	}
}
