package host

import "errors"

var (
	// ErrAuthenticationFailed covers unknown users, bad passwords and
	// disabled accounts alike.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNoSuchProject is returned by Authorizer for unregistered repositories.
	ErrNoSuchProject = errors.New("no such project")

	// ErrNoSessionContainer is returned when logging in outside SessionManager.Middleware.
	ErrNoSessionContainer = errors.New("no host session container on request")
)
