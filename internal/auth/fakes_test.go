package auth

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/terraconstructs/viewbridge/internal/host"
)

// fakeSession is a host.Session whose state tests set directly.
type fakeSession struct {
	mu        sync.Mutex
	signedIn  bool
	id        string
	principal *host.Principal
	logins    int
	logouts   int
	loginErr  error
}

func signedInAs(id string, p *host.Principal) *fakeSession {
	return &fakeSession{signedIn: true, id: id, principal: p}
}

func (f *fakeSession) IsSignedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedIn
}

func (f *fakeSession) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeSession) CurrentPrincipal() *host.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principal == nil {
		return host.Anonymous()
	}
	return f.principal
}

func (f *fakeSession) Login(_ context.Context, r *host.AuthResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.signedIn = true
	f.id = "after-login"
	f.principal = r.Principal
	return nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.signedIn = false
	f.id = ""
	f.principal = nil
	return nil
}

type verifierFunc func(ctx context.Context, username, password string) (*host.AuthResult, error)

func (f verifierFunc) Verify(ctx context.Context, username, password string) (*host.AuthResult, error) {
	return f(ctx, username, password)
}

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, username, password string) (*host.AuthResult, error) {
	args := m.Called(ctx, username, password)
	result, _ := args.Get(0).(*host.AuthResult)
	return result, args.Error(1)
}

type checkCall struct {
	Subject string
	Res     host.Resource
	Action  host.Action
}

// fakeAuthorizer answers from a rule function and records every call.
type fakeAuthorizer struct {
	mu    sync.Mutex
	calls []checkCall
	rule  func(p *host.Principal, res host.Resource, action host.Action) (bool, error)
}

func (f *fakeAuthorizer) Check(_ context.Context, p *host.Principal, res host.Resource, action host.Action) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, checkCall{p.Subject(), res, action})
	rule := f.rule
	f.mu.Unlock()
	if rule == nil {
		return false, nil
	}
	return rule(p, res, action)
}

func (f *fakeAuthorizer) setRule(rule func(p *host.Principal, res host.Resource, action host.Action) (bool, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rule = rule
}

func (f *fakeAuthorizer) callsOfKind(kind host.ResourceKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Res.Kind == kind {
			n++
		}
	}
	return n
}

func allowAll(*host.Principal, host.Resource, host.Action) (bool, error) { return true, nil }

var alice = &host.Principal{AccountID: 7, Username: "alice", FullName: "Alice Liddell", PreferredEmail: "alice@example.com", Identified: true}
