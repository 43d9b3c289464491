package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamchat/pkg/interfaces"
	"teamchat/pkg/types"
)

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	token, err := verifier.Issue(&types.Identity{UserID: "u-1", Username: "alice", Role: types.RoleAdmin})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	identity, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.UserID != "u-1" || identity.Username != "alice" || identity.Role != types.RoleAdmin {
		t.Errorf("wrong identity: %+v", identity)
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	token, err := raw.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, interfaces.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	issuer := NewJWTVerifier("secret-a", time.Hour)
	verifier := NewJWTVerifier("secret-b", time.Hour)

	token, err := issuer.Issue(&types.Identity{UserID: "u-1", Username: "alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTVerifier_MalformedToken(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := verifier.VerifyToken(token); !errors.Is(err, interfaces.ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestJWTVerifier_MissingUsernameClaim(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	// A token with a subject but no username claim is rejected.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := raw.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := verifier.VerifyToken(token); !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTVerifier_RoleDefaultsToUser(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	token, err := verifier.Issue(&types.Identity{UserID: "u-1", Username: "alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	identity, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.Role != types.RoleUser {
		t.Errorf("expected default role, got %s", identity.Role)
	}
}

func TestJWTVerifier_IssueRequiresSubject(t *testing.T) {
	verifier := NewJWTVerifier("secret", time.Hour)

	if _, err := verifier.Issue(nil); !errors.Is(err, ErrMissingSubject) {
		t.Errorf("expected ErrMissingSubject for nil identity, got %v", err)
	}
	if _, err := verifier.Issue(&types.Identity{Username: "alice"}); !errors.Is(err, ErrMissingSubject) {
		t.Errorf("expected ErrMissingSubject for empty user id, got %v", err)
	}
}
