package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"caredesk.org/internal/identity"
)

const tokenIssuer = "caredesk"

// ErrInvalidToken indicates a session token failed validation.
var ErrInvalidToken = errors.New("gateway: invalid token")

// sessionClaims are the JWT claims carried by locally minted session tokens.
type sessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// mintSessionToken signs an HS256 session token for the given user. Used for
// seeded demo sessions, which never touch the provider.
func mintSessionToken(secret []byte, user identity.User, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, errors.New("gateway: user id is required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateSessionToken verifies a locally minted token and returns its
// subject and role.
func ValidateSessionToken(secret []byte, token string) (userID string, role identity.Role, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", "", ErrInvalidToken
	}
	parsedRole, _ := identity.ParseRole(claims.Role)
	return claims.Subject, parsedRole, nil
}
