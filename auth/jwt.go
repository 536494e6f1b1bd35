// Package auth protects the operator surface with HS256 bearer tokens.
// Tokens are minted offline (swcache -mint-token) and carry a role; only
// RoleOperator may call mutating endpoints.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the minimum HS256 secret length (256 bits).
const MinSecretLen = 32

// Roles.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// ErrSecretTooShort is returned when a secret is shorter than MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLen)

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ValidateSecret checks that secret is long enough for HS256.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// GenerateToken signs a token for subject with role, valid for expiry.
func GenerateToken(secret []byte, subject, role string, expiry time.Duration) (string, error) {
	if err := ValidateSecret(secret); err != nil {
		return "", err
	}
	if role != RoleOperator && role != RoleViewer {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "swcache",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken parses tokenStr, pinning the signing method to HS256.
func ValidateToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer("swcache"), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("auth: invalid token")
}
