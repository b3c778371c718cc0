// Package auth validates the bearer identity tokens that scope backend calls to a user.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes carried in the token's space-separated "scope" claim. Write implies read.
const (
	ScopeWorkoutsRead  = "workouts:read"
	ScopeWorkoutsWrite = "workouts:write"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken wraps signature, issuer, expiry and subject failures.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Config holds the HMAC secret and expected issuer.
type Config struct {
	Secret string
	Issuer string
}

// Identity is the verified caller. Every backend row is scoped by UserID.
type Identity struct {
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

// Can reports whether the identity may perform an operation needing scope.
func (id *Identity) Can(scope string) bool {
	if id == nil {
		return false
	}
	if slices.Contains(id.Scopes, scope) {
		return true
	}
	return scope == ScopeWorkoutsRead && slices.Contains(id.Scopes, ScopeWorkoutsWrite)
}

type tokenClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Parse verifies an HS256 token and returns the identity it carries. Subject and
// expiry are mandatory.
func Parse(token string, cfg Config) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	},
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return &Identity{
		UserID:    claims.Subject,
		Scopes:    strings.Fields(claims.Scope),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Sign issues an HS256 token for userID. Devices use it with a shared development
// secret; production tokens come from the identity provider.
func Sign(cfg Config, userID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
