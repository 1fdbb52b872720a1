// Package host is the reference host application: it owns accounts, the
// signed-in web session, password verification and the access-control
// backend. The viewer bridge consumes it only through Session, Verifier and
// Authorizer.
package host

import "strconv"

// Principal is the host's view of who is signed in. Values are immutable;
// a sign-in or sign-out replaces the principal held by the session.
type Principal struct {
	AccountID      int64
	Username       string // empty for unnamed external accounts
	FullName       string
	PreferredEmail string
	Identified     bool
}

var anonymous = &Principal{}

// Anonymous returns the shared anonymous principal.
func Anonymous() *Principal { return anonymous }

// IsAnonymous reports whether p is not an identified account.
func (p *Principal) IsAnonymous() bool {
	return p == nil || !p.Identified
}

// Subject is the casbin subject for the principal.
func (p *Principal) Subject() string {
	if p.IsAnonymous() {
		return GroupAnonymousUsers
	}
	return "user:" + strconv.FormatInt(p.AccountID, 10)
}

// PrincipalRef is a live handle to a principal. Holders call Principal at
// the time they need it and so observe sign-in changes.
type PrincipalRef interface {
	Principal() *Principal
}

// FixedPrincipal is a PrincipalRef that never changes.
type FixedPrincipal struct{ P *Principal }

// Principal implements PrincipalRef.
func (f FixedPrincipal) Principal() *Principal { return f.P }
