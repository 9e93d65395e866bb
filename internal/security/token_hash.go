package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 digest of a bearer value (refresh token, revoked
// access token, verification code). Stores key on the digest so raw values never hit storage,
// and lookups match digests in the query rather than comparing in Go.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
