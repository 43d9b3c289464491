// Package auth verifies the signed bearer tokens that connections present
// during the WebSocket upgrade and on every inbound frame.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamchat/pkg/interfaces"
	"teamchat/pkg/types"
)

// JWTVerifier implements interfaces.TokenVerifier on HS256-signed tokens.
type JWTVerifier struct {
	secret []byte
	expiry time.Duration
}

// Claims carried inside a teamchat token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTVerifier builds a verifier for the given shared secret. expiry is
// used only when issuing tokens (tests, internal tooling).
func NewJWTVerifier(secret string, expiry time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for the given identity.
func (v *JWTVerifier) Issue(identity *types.Identity) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	if identity == nil || strings.TrimSpace(identity.UserID) == "" {
		return "", ErrMissingSubject
	}

	claims := Claims{
		Username: identity.Username,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(v.expiry)),
		},
	}
	if v.expiry <= 0 {
		claims.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// VerifyToken parses and validates a token and returns the identity it
// carries. Expired tokens are distinguished from malformed ones so the
// caller can report the right close reason.
func (v *JWTVerifier) VerifyToken(token string) (*types.Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, interfaces.ErrTokenExpired
		}
		return nil, interfaces.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, interfaces.ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Username) == "" {
		return nil, interfaces.ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = types.RoleUser
	}
	return &types.Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Role:     role,
	}, nil
}
