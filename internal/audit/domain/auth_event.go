package domain

import "time"

// Auth event actions.
const (
	ActionSignup           = "signup"
	ActionSignin           = "signin"
	ActionSigninFailure    = "signin_failure"
	ActionSigninUnverified = "signin_unverified"
	ActionLogout           = "logout"
	ActionSessionEvicted   = "session_evicted"
	ActionTokenRefresh     = "token_refresh"
	ActionVerified         = "verified"
)

// AuthEvent records one authentication event for an identity.
type AuthEvent struct {
	ID         string
	IdentityID string
	Action     string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
