package security

import "time"

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcde"
)

// NewTestTokenProvider returns a TokenProvider with fixed secrets, 15m access and 168h refresh TTLs.
func NewTestTokenProvider() *TokenProvider {
	p, err := NewTokenProvider([]byte(testAccessSecret), []byte(testRefreshSecret), "test-issuer", "test-audience", 15*time.Minute, 168*time.Hour)
	if err != nil {
		panic(err)
	}
	return p
}

// WithClock returns a copy of p that reads time from nowF. Test-only.
func (p *TokenProvider) WithClock(nowF func() time.Time) *TokenProvider {
	cp := *p
	cp.nowF = nowF
	return &cp
}
