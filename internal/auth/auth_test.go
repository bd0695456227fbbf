package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestAuthenticator() *Authenticator {
	return New("test-secret", 4, time.Hour, 7*24*time.Hour)
}

func TestHashAndVerifyPassword(t *testing.T) {
	a := newTestAuthenticator()

	hash, err := a.HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" {
		t.Fatal("HashPassword returned empty hash")
	}

	if err := a.VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Errorf("VerifyPassword with correct password failed: %v", err)
	}
	if err := a.VerifyPassword(hash, "wrong password"); err == nil {
		t.Error("VerifyPassword with wrong password should fail")
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	a := newTestAuthenticator()
	userID := uuid.New()

	token, err := a.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	got, err := a.Verify(token, TokenAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Errorf("Verify returned %s, want %s", got, userID)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	a := newTestAuthenticator()
	userID := uuid.New()

	refresh, err := a.IssueRefreshToken(userID)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := a.Verify(refresh, TokenAccess); err == nil {
		t.Error("Verify should reject a refresh token presented as access")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := New("test-secret", 4, -time.Minute, time.Hour)
	userID := uuid.New()

	token, err := a.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := a.Verify(token, TokenAccess); err == nil {
		t.Error("Verify should reject an already-expired token")
	}
}

func TestVerifyRejectsTokenFromDifferentSecret(t *testing.T) {
	a := newTestAuthenticator()
	other := New("other-secret", 4, time.Hour, time.Hour)

	token, err := a.IssueAccessToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := other.Verify(token, TokenAccess); err == nil {
		t.Error("Verify should reject a token signed with a different secret")
	}
}

func TestAccessTTLSeconds(t *testing.T) {
	a := New("s", 4, 90*time.Minute, time.Hour)
	if got, want := a.AccessTTLSeconds(), int64(5400); got != want {
		t.Errorf("AccessTTLSeconds() = %d, want %d", got, want)
	}
}
