package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer    = "flowguard"
	roleAdmin = "admin"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNotAdmin     = errors.New("token does not carry the admin role")
)

// AdminClaims are the claims of an operator token. Emergency grants the
// break-glass kill switch actions.
type AdminClaims struct {
	Role      string `json:"role"`
	Emergency bool   `json:"emergency,omitempty"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for operator.
func IssueAdminToken(key []byte, operator string, emergency bool, now time.Time, ttl time.Duration) (string, error) {
	claims := AdminClaims{
		Role:      roleAdmin,
		Emergency: emergency,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// ParseAdminToken verifies the token against key at time now and requires
// the admin role and a subject.
func ParseAdminToken(key []byte, token string, now time.Time) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("admin token: %w", err)
	}
	if claims.Role != roleAdmin || claims.Subject == "" {
		return nil, ErrNotAdmin
	}
	return claims, nil
}
