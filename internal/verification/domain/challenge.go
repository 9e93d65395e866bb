package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel is where a code is delivered and which verified flag it sets.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelPhone Channel = "PHONE"
)

// Method is the code format.
type Method string

const (
	// MethodOTP is a 6-digit numeric code valid for OTPTTL.
	MethodOTP Method = "OTP"
	// MethodToken is a 32-byte hex token valid for TokenTTL.
	MethodToken Method = "TOKEN"
)

const (
	OTPTTL   = 10 * time.Minute
	TokenTTL = 24 * time.Hour
)

// TTL returns the lifetime of codes issued with m.
func (m Method) TTL() time.Duration {
	if m == MethodToken {
		return TokenTTL
	}
	return OTPTTL
}

// ParseChannel accepts EMAIL or PHONE in any case.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelPhone:
		return c, nil
	}
	return "", fmt.Errorf("unknown verification channel %q", s)
}

// ParseMethod accepts OTP or TOKEN in any case.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodOTP, MethodToken:
		return m, nil
	}
	return "", fmt.Errorf("unknown verification method %q", s)
}

// Challenge is the single pending code for an (identity, channel) pair. Only the
// SHA-256 hash of the code is stored.
type Challenge struct {
	ID         string
	IdentityID string
	Channel    Channel
	Method     Method
	CodeHash   string
	Target     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the challenge can no longer be consumed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
