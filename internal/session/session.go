// Package session is the capability surface the mediation layer uses to
// consult the authorization subsystem. The real session store lives
// elsewhere; this layer only ever asks who the user is and whether
// interactive login is possible.
package session

import "context"

// MarkerCookie is the anti-fixation cookie handed to anonymous visitors
// before they log in. Its presence proves the login form was served to
// this browser.
const MarkerCookie = "Bugzilla_login_request_cookie"

// Authorizer is the session/authorization collaborator.
type Authorizer interface {
	// UserID returns the authenticated user id, or 0 for anonymous.
	UserID(ctx context.Context) int64

	// CanLogin reports whether this authorizer accepts interactive
	// login at all (LDAP-only or API-key-only deployments may not).
	CanLogin() bool
}

// Anonymous is an Authorizer with no user and login enabled. Useful as
// a default and in tests.
type Anonymous struct{}

func (Anonymous) UserID(context.Context) int64 { return 0 }
func (Anonymous) CanLogin() bool               { return true }

// Static is a fixed-answer Authorizer for tests and single-user tools.
type Static struct {
	ID    int64
	Login bool
}

func (s Static) UserID(context.Context) int64 { return s.ID }
func (s Static) CanLogin() bool               { return s.Login }
