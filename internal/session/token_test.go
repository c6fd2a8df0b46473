package session

import (
	"errors"
	"testing"
	"time"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("ARABIQ_SESSION_SECRET", value)
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndParse(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := GenerateToken("id-42", "Alice@Example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "id-42" {
		t.Fatalf("subject = %s", claims.Subject)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", claims.Email)
	}
	if claims.Issuer != "arabiq" {
		t.Fatalf("issuer = %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	setSecret(t, "test-secret")
	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	setSecret(t, "first-secret")
	token, err := GenerateToken("id-42", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	setSecret(t, "second-secret")
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestGenerateRequiresConfiguredSecret(t *testing.T) {
	setSecret(t, "")
	if _, err := GenerateToken("id-42", "a@example.com", time.Hour); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	setSecret(t, "test-secret")
	if _, err := GenerateToken("", "a@example.com", time.Hour); err == nil {
		t.Fatal("expected error for empty identity id")
	}
	if _, err := GenerateToken("id-42", "a@example.com", 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}
