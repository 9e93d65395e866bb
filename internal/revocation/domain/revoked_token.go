package domain

import "time"

// RevokedToken marks a token value as unusable until ExpiresAt. TokenHash is the
// SHA-256 hex digest of the token value.
type RevokedToken struct {
	TokenHash string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

// Expired reports whether the entry no longer needs to be tracked at now.
func (t *RevokedToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
