// Package verification generates one-time codes for identity verification.
package verification

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"ams-control-plane/backend/internal/verification/domain"
)

const (
	otpDigits  = 6
	tokenBytes = 32
)

var otpSpace = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly distributed 6-digit numeric code (e.g. "042917").
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", err
	}
	s := n.String()
	for len(s) < otpDigits {
		s = "0" + s
	}
	return s, nil
}

// GenerateToken returns 32 random bytes hex-encoded (64 characters).
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Generate returns a fresh code in the format of m.
func Generate(m domain.Method) (string, error) {
	if m == domain.MethodToken {
		return GenerateToken()
	}
	return GenerateOTP()
}
