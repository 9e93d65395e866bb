package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, forged, expired, or of the wrong kind.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret is returned by NewTokenProvider when secrets are missing or identical.
	ErrWeakSecret = errors.New("security: access and refresh secrets must be set and distinct")
)

// TokenKind distinguishes access from refresh tokens inside the claims.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims holds the JWT claims for both token kinds. Subject is the identity id.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"typ"`
}

// Issued is a signed token with its id and expiry.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Pair is an access/refresh token pair issued together.
type Pair struct {
	Access  Issued
	Refresh Issued
}

// TokenProvider issues and validates HS256 access and refresh tokens. Each kind has
// its own secret so a refresh secret cannot mint access tokens and vice versa.
type TokenProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	nowF          func() time.Time
}

// NewTokenProvider returns a TokenProvider. issuer and audience are stamped on every
// token and checked on validation.
func NewTokenProvider(accessSecret, refreshSecret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 || string(accessSecret) == string(refreshSecret) {
		return nil, ErrWeakSecret
	}
	return &TokenProvider{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		nowF:          time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssuePair signs an access and a refresh token for identityID. Nothing is persisted;
// callers record the session before handing the pair out.
func (p *TokenProvider) IssuePair(identityID string) (Pair, error) {
	access, err := p.issue(KindAccess, identityID)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := p.issue(KindRefresh, identityID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (p *TokenProvider) issue(kind TokenKind, identityID string) (Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return Issued{}, err
	}
	secret, ttl := p.keyFor(kind)
	now := p.nowF().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identityID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

// ValidateAccess verifies signature, expiry, issuer, audience and kind of an access token.
func (p *TokenProvider) ValidateAccess(token string) (*Claims, error) {
	return p.validate(KindAccess, token)
}

// ValidateRefresh verifies a refresh token against the refresh secret.
func (p *TokenProvider) ValidateRefresh(token string) (*Claims, error) {
	return p.validate(KindRefresh, token)
}

func (p *TokenProvider) validate(kind TokenKind, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	secret, _ := p.keyFor(kind)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PeekExpiry reads the exp claim without verifying the signature. Used only to report
// when a revoked token would have expired; never for authorization decisions.
func (p *TokenProvider) PeekExpiry(tokenString string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// RemainingTTL returns how long claims stay valid from now, floored at zero.
func (p *TokenProvider) RemainingTTL(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	d := claims.ExpiresAt.Time.Sub(p.nowF())
	if d < 0 {
		return 0
	}
	return d
}

func (p *TokenProvider) keyFor(kind TokenKind) ([]byte, time.Duration) {
	if kind == KindRefresh {
		return p.refreshSecret, p.refreshTTL
	}
	return p.accessSecret, p.accessTTL
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
