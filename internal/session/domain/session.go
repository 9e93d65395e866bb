package domain

import (
	"strings"
	"time"
)

// Retire reasons recorded on inactive sessions.
const (
	ReasonEvicted = "evicted"
	ReasonLogout  = "logout"
	ReasonExpired = "expired"
)

// Fingerprint identifies the client a session belongs to. Origin is the client network address.
type Fingerprint struct {
	Device  string
	Browser string
	Origin  string
}

// Normalize trims surrounding whitespace from each part.
func (f Fingerprint) Normalize() Fingerprint {
	return Fingerprint{
		Device:  strings.TrimSpace(f.Device),
		Browser: strings.TrimSpace(f.Browser),
		Origin:  strings.TrimSpace(f.Origin),
	}
}

// Session is one signed-in client of an identity. Sessions are never deleted; they are retired
// by setting Active to false.
type Session struct {
	ID               string
	IdentityID       string
	Fingerprint      Fingerprint
	RefreshTokenHash string
	Active           bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastSeenAt       time.Time
	RetiredAt        *time.Time
	RetireReason     string
}

// Expired reports whether the session's refresh window has closed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
