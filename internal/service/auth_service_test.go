package service

import (
	"testing"

	"github.com/cpu-jia/chatroom/internal/apperr"
)

func TestRegisterAndLogin(t *testing.T) {
	st, _, authenticator := newTestEnv(t)
	svc := NewAuthService(st, authenticator)

	user, tokens, err := svc.Register(RegisterRequest{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "hunter222",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email should be lowercased on store, got %q", user.Email)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Error("Register should return both tokens")
	}

	_, _, err = svc.Login(LoginRequest{Email: "alice@example.com", Password: "hunter222"})
	if err != nil {
		t.Errorf("Login with correct credentials: %v", err)
	}
	_, _, err = svc.Login(LoginRequest{Email: "alice@example.com", Password: "wrong"})
	if !apperr.Is(err, apperr.Authentication) {
		t.Errorf("Login with wrong password should be Authentication, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	st, _, authenticator := newTestEnv(t)
	svc := NewAuthService(st, authenticator)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"short username", RegisterRequest{Username: "ab", Email: "a@example.com", Password: "longenough"}},
		{"bad email", RegisterRequest{Username: "alice", Email: "not-an-email", Password: "longenough"}},
		{"short password", RegisterRequest{Username: "alice", Email: "a@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		if _, _, err := svc.Register(tt.req); !apperr.Is(err, apperr.Validation) {
			t.Errorf("%s: want Validation, got %v", tt.name, err)
		}
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	st, _, authenticator := newTestEnv(t)
	svc := NewAuthService(st, authenticator)

	if _, _, err := svc.Register(RegisterRequest{Username: "alice", Email: "a1@example.com", Password: "password1"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, _, err := svc.Register(RegisterRequest{Username: "alice", Email: "a2@example.com", Password: "password1"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Errorf("duplicate username should be Conflict, got %v", err)
	}
}

func TestRefreshTokenRejectsAccessToken(t *testing.T) {
	st, _, authenticator := newTestEnv(t)
	svc := NewAuthService(st, authenticator)

	_, tokens, err := svc.Register(RegisterRequest{Username: "alice", Email: "a@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.RefreshToken(tokens.AccessToken); !apperr.Is(err, apperr.Authentication) {
		t.Errorf("refreshing with an access token should be Authentication, got %v", err)
	}
	if _, err := svc.RefreshToken(tokens.RefreshToken); err != nil {
		t.Errorf("refreshing with a refresh token should succeed, got %v", err)
	}
}

func TestUpdateProfileValidatesUsername(t *testing.T) {
	st, _, authenticator := newTestEnv(t)
	svc := NewAuthService(st, authenticator)

	user, _, err := svc.Register(RegisterRequest{Username: "alice", Email: "a@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	tooShort := "ab"
	if _, err := svc.UpdateProfile(user.ID, &tooShort); !apperr.Is(err, apperr.Validation) {
		t.Errorf("too-short username should be Validation, got %v", err)
	}

	valid := "alice2"
	updated, err := svc.UpdateProfile(user.ID, &valid)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Username != "alice2" {
		t.Errorf("Username = %q, want alice2", updated.Username)
	}
}
