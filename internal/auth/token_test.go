package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseProfileToken(t *testing.T) {
	secret := []byte("secret")
	now := time.Unix(1_700_000_000, 0)
	issued, claims, err := IssueProfileToken(secret, "profile-1", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueProfileToken() error = %v", err)
	}
	if claims.JTI == "" || claims.Exp != now.Add(time.Hour).Unix() {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	parsed, err := ParseToken(secret, issued, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed != claims {
		t.Fatalf("parsed %+v, issued %+v", parsed, claims)
	}

	if _, err := ParseToken(secret, issued, now.Add(2*time.Hour)); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenWithoutExpiry(t *testing.T) {
	secret := []byte("secret")
	now := time.Unix(1_700_000_000, 0)
	issued, claims, err := IssueProfileToken(secret, "profile-1", 0, now)
	if err != nil {
		t.Fatalf("IssueProfileToken() error = %v", err)
	}
	if claims.Exp != 0 {
		t.Fatalf("Exp = %d, want 0", claims.Exp)
	}
	if _, err := ParseToken(secret, issued, now.AddDate(10, 0, 0)); err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, _, err := IssueProfileToken(secret, "profile-1", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueProfileToken() error = %v", err)
	}
	payload, signature, _ := strings.Cut(issued, ".")

	tests := map[string]string{
		"wrong secret":    "",
		"no separator":    payload + signature,
		"extra segment":   issued + ".x",
		"swapped payload": "eyJzdWIiOiJvdGhlciJ9." + signature,
		"empty":           "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			key := secret
			if name == "wrong secret" {
				key, token = []byte("other"), issued
			}
			if _, err := ParseToken(key, token, now); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(nil, Claims{Sub: "p", JTI: "j"}); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
