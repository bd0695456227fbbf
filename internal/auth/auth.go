// Package auth handles password hashing and stateless bearer tokens
// (spec.md §4.5). It is grounded on the teacher's blog-system auth service
// (internal/service/auth.go), adapted to uuid.UUID subjects and to the
// access/refresh typ claim the spec requires.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cpu-jia/chatroom/internal/apperr"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the JWT payload: {sub, iat, exp, typ}.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies tokens, and hashes/verifies passwords.
type Authenticator struct {
	secret      []byte
	bcryptCost  int
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func New(secret string, bcryptCost int, accessTTL, refreshTTL time.Duration) *Authenticator {
	return &Authenticator{
		secret:     []byte(secret),
		bcryptCost: bcryptCost,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// HashPassword hashes a plaintext password with the configured bcrypt cost.
func (a *Authenticator) HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), a.bcryptCost)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "hash password", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a stored bcrypt
// hash. bcrypt.CompareHashAndPassword is constant-time at the hash level.
func (a *Authenticator) VerifyPassword(hash, plain string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return apperr.New(apperr.Authentication, "invalid credentials")
	}
	return nil
}

// IssueAccessToken mints a 1-hour (configurable) access token for userID.
func (a *Authenticator) IssueAccessToken(userID uuid.UUID) (string, error) {
	return a.issue(userID, TokenAccess, a.accessTTL)
}

// AccessTTLSeconds reports the configured access token lifetime in whole
// seconds, for callers that need to surface expires_in on the wire.
func (a *Authenticator) AccessTTLSeconds() int64 {
	return int64(a.accessTTL.Seconds())
}

// IssueRefreshToken mints a 7-day (configurable) refresh token for userID.
func (a *Authenticator) IssueRefreshToken(userID uuid.UUID) (string, error) {
	return a.issue(userID, TokenRefresh, a.refreshTTL)
}

func (a *Authenticator) issue(userID uuid.UUID, typ TokenType, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a token, checking signature, expiry, and
// (if want is non-empty) that the token's typ matches.
func (a *Authenticator) Verify(tokenString string, want TokenType) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return uuid.Nil, apperr.New(apperr.Authentication, "invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, apperr.New(apperr.Authentication, "invalid token")
	}
	if want != "" && claims.Type != want {
		return uuid.Nil, apperr.New(apperr.Authentication, "wrong token type")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.Authentication, "invalid token subject")
	}
	return userID, nil
}
