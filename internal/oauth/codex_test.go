package oauth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return s
}

func TestParseCodexIdentity(t *testing.T) {
	t.Parallel()

	token := signedTestToken(t, jwt.MapClaims{
		"email": "dev@example.com",
		codexAuthClaim: map[string]any{
			"chatgpt_plan_type": "pro",
		},
	})

	identity, err := ParseCodexIdentity(token)
	if err != nil {
		t.Fatalf("ParseCodexIdentity: %v", err)
	}
	if identity.Email != "dev@example.com" {
		t.Errorf("email = %q, want dev@example.com", identity.Email)
	}
	if identity.Plan != "pro" {
		t.Errorf("plan = %q, want pro", identity.Plan)
	}
}

func TestParseCodexIdentityDefaultsPlanToFree(t *testing.T) {
	t.Parallel()

	token := signedTestToken(t, jwt.MapClaims{
		"email":        "dev@example.com",
		codexAuthClaim: map[string]any{},
	})

	identity, err := ParseCodexIdentity(token)
	if err != nil {
		t.Fatalf("ParseCodexIdentity: %v", err)
	}
	if identity.Plan != "free" {
		t.Errorf("plan = %q, want free", identity.Plan)
	}
}

func TestParseCodexIdentityMissingAuthClaim(t *testing.T) {
	t.Parallel()

	token := signedTestToken(t, jwt.MapClaims{"email": "dev@example.com"})

	if _, err := ParseCodexIdentity(token); err == nil {
		t.Fatal("expected an error for a token missing the auth claim")
	}
}
