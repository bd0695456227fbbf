package service

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/authz"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/store"
)

// RegisterRequest / LoginRequest mirror the wire bodies from spec.md §6.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is the access+refresh token bundle returned on register/login/
// refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type AuthService struct {
	store store.Store
	auth  *auth.Authenticator
}

func NewAuthService(st store.Store, authenticator *auth.Authenticator) *AuthService {
	return &AuthService{store: st, auth: authenticator}
}

func (s *AuthService) Register(req RegisterRequest) (*model.User, *TokenPair, error) {
	if err := validateUsername(req.Username); err != nil {
		return nil, nil, err
	}
	if err := validateEmail(req.Email); err != nil {
		return nil, nil, err
	}
	if len(req.Password) < 8 {
		return nil, nil, apperr.New(apperr.Validation, "password must be at least 8 characters")
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.store.CreateUser(req.Username, strings.ToLower(req.Email), hash)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

func (s *AuthService) Login(req LoginRequest) (*model.User, *TokenPair, error) {
	user, err := s.store.FindUserByEmail(strings.ToLower(req.Email))
	if err != nil {
		return nil, nil, apperr.New(apperr.Authentication, "invalid credentials")
	}
	if err := authz.RequireActiveUser(user); err != nil {
		return nil, nil, err
	}
	if err := s.auth.VerifyPassword(user.Password, req.Password); err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

func (s *AuthService) RefreshToken(refreshToken string) (*TokenPair, error) {
	userID, err := s.auth.Verify(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByID(userID)
	if err != nil {
		return nil, apperr.New(apperr.Authentication, "user no longer exists")
	}
	if err := authz.RequireActiveUser(user); err != nil {
		return nil, err
	}
	return s.issueTokens(userID)
}

func (s *AuthService) issueTokens(userID uuid.UUID) (*TokenPair, error) {
	access, err := s.auth.IssueAccessToken(userID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.auth.IssueRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.auth.AccessTTLSeconds()}, nil
}

// CurrentUser loads the profile for an already-authenticated caller.
func (s *AuthService) CurrentUser(userID uuid.UUID) (*model.User, error) {
	return s.store.FindUserByID(userID)
}

// UpdateProfile lets a user change their own username. State-changing, so
// a suspended user is denied (spec.md §4.6 rule 6) even within their
// still-valid access token's lifetime.
func (s *AuthService) UpdateProfile(userID uuid.UUID, username *string) (*model.User, error) {
	user, err := s.store.FindUserByID(userID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireActiveUser(user); err != nil {
		return nil, err
	}
	if username != nil {
		if err := validateUsername(*username); err != nil {
			return nil, err
		}
	}
	return s.store.UpdateUserProfile(userID, username)
}

func (s *AuthService) SearchUsers(query string, limit, offset int) ([]model.User, error) {
	limit = clamp(limit, 1, 200)
	if offset < 0 {
		offset = 0
	}
	return s.store.SearchUsers(query, limit, offset)
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 50 {
		return apperr.New(apperr.Validation, "username must be 3-50 characters")
	}
	return nil
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.New(apperr.Validation, "invalid email address")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
