package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the session lifetime used when none is configured.
	DefaultTokenTTL = time.Hour
)

var (
	ErrInvalidIssuerConfig = errors.New("auth: invalid token issuer config")
	ErrMissingToken        = errors.New("auth: token required")
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrExpiredToken        = errors.New("auth: token expired")
	ErrMissingIdentity     = errors.New("auth: token carries no identity id")
)

// identityClaimKeys lists the top-level claim names historically used for the identity id,
// most specific first.
var identityClaimKeys = []string{"identityId", "userId", "id", "_id"}

// nestedIdentityClaimKeys are consulted inside a nested "user" object.
var nestedIdentityClaimKeys = []string{"identityId", "id", "_id"}

// Claims is the canonical payload carried by a session token.
type Claims struct {
	IdentityID string
	Email      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// IssuedToken is a signed token together with its validity window.
type IssuedToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the remaining lifetime in whole seconds at issue time.
func (t IssuedToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt).Seconds())
}

type sessionClaims struct {
	IdentityID string `json:"identityId"`
	Email      string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, fmt.Errorf("%w: signing secret required", ErrInvalidIssuerConfig)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer required", ErrInvalidIssuerConfig)
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: audience required", ErrInvalidIssuerConfig)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("%w: token ttl must be positive", ErrInvalidIssuerConfig)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// TTL returns the configured default token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the identity. A non-positive ttl uses the configured lifetime.
func (i *TokenIssuer) Issue(_ context.Context, claims Claims, ttl time.Duration) (IssuedToken, error) {
	identityID := strings.TrimSpace(claims.IdentityID)
	if identityID == "" {
		return IssuedToken{}, ErrMissingIdentity
	}
	if ttl <= 0 {
		ttl = i.ttl
	}

	now := i.clock().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		IdentityID: identityID,
		Email:      strings.TrimSpace(claims.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return IssuedToken{}, err
	}

	return IssuedToken{Value: signed, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry of tokenString and returns canonical claims.
// Tokens minted by older issuers are accepted as long as they are signed with the same
// secret and carry an expiry; their identity id is normalized from whichever claim
// name they used.
func (i *TokenIssuer) Verify(tokenString string) (Claims, error) {
	raw := strings.TrimSpace(tokenString)
	if raw == "" {
		return Claims{}, ErrMissingToken
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(
		raw,
		mapClaims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	if issuer, _ := mapClaims.GetIssuer(); issuer != "" && issuer != i.issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, issuer)
	}
	if audience, _ := mapClaims.GetAudience(); len(audience) > 0 && !containsString(audience, i.audience) {
		return Claims{}, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}

	identityID := resolveIdentityID(mapClaims)
	if identityID == "" {
		return Claims{}, ErrMissingIdentity
	}

	claims := Claims{
		IdentityID: identityID,
		Email:      resolveEmail(mapClaims),
	}
	if issuedAt, _ := mapClaims.GetIssuedAt(); issuedAt != nil {
		claims.IssuedAt = issuedAt.Time.UTC()
	}
	if expiresAt, _ := mapClaims.GetExpirationTime(); expiresAt != nil {
		claims.ExpiresAt = expiresAt.Time.UTC()
	}
	return claims, nil
}

func resolveIdentityID(claims jwt.MapClaims) string {
	for _, key := range identityClaimKeys {
		if value := claimString(claims[key]); value != "" {
			return value
		}
	}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		for _, key := range nestedIdentityClaimKeys {
			if value := claimString(user[key]); value != "" {
				return value
			}
		}
	}
	return claimString(claims["sub"])
}

func resolveEmail(claims jwt.MapClaims) string {
	if email := claimString(claims["email"]); email != "" {
		return email
	}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		return claimString(user["email"])
	}
	return ""
}

func claimString(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return ""
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
