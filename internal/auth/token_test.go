package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func TestTokenIssueVerify(t *testing.T) {
	issuer := newTestIssuer(t)

	token, expiresAt, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a signed token")
	}
	if remaining := time.Until(expiresAt); remaining < 6*24*time.Hour {
		t.Fatalf("expected ~7d expiry, got %v", remaining)
	}

	userID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %q", userID)
	}
}

func TestTokenVerifyRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestTokenVerifyRejectsTampering(t *testing.T) {
	issuer := newTestIssuer(t)

	token, _, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := issuer.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestTokenVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer(t)
	other, err := NewIssuer("different-secret", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, _, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	issuer := newTestIssuer(t)

	token, _, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.WithClock(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) })
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}
