// Package middleware provides the stdlib http.Handler-chain middleware
// used by the HTTP/WS surface: bearer auth, CORS, rate limiting, request
// logging, and panic recovery. Grounded on the teacher's
// 04-web/10-security SecurityHeadersMiddleware/CORSMiddleware/RateLimiter/
// JWTAuthMiddleware, adapted from gin's own *gin.Context style (seen in
// 06-projects/02-ecommerce-backend/internal/middleware) to the plain
// func(http.Handler) http.Handler chain the root module uses, since the
// http framework the root go.mod actually depends on is gorilla/mux, not
// gin.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/pkg/logger"
)

type ctxKey int

const userIDKey ctxKey = iota

// WithUserID stashes an authenticated caller's id in the request context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the id stashed by RequireAuth.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// Authenticator is the subset of auth.Authenticator the middleware needs,
// narrowed so tests can fake it without a real secret.
type Authenticator interface {
	Verify(token string, want auth.TokenType) (uuid.UUID, error)
}

// WriteError is shared with internal/httpapi so every layer renders the
// {"success":false,"error":{...}} envelope the same way.
type WriteError func(w http.ResponseWriter, err error)

// RequireAuth rejects requests without a valid bearer access token and
// stashes the resolved user id in the request context.
func RequireAuth(authenticator Authenticator, writeErr WriteError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeErr(w, apperr.New(apperr.Authentication, "missing bearer token"))
				return
			}

			userID, err := authenticator.Verify(token, auth.TokenAccess)
			if err != nil {
				writeErr(w, err)
				return
			}

			r = r.WithContext(WithUserID(r.Context(), userID))
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the access token from the Authorization header, or
// falls back to the ?token= query parameter. The fallback exists for the
// WebSocket upgrade request (spec.md §6, GET /ws?token=<access_token>):
// browsers cannot set custom headers on a WS handshake, so the token has
// to travel in the URL for that one route.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != header {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// CORS mirrors the teacher's CORSMiddleware, generalized to a configurable
// origin allowlist instead of a hardcoded domain list.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter grants a per-caller token bucket, grounded on the teacher's
// RateLimiter (04-web/10-security/main.go). Callers are keyed by the first
// X-Forwarded-For address when that header is present, else by the remote
// address. Limiters are never evicted: the map keeps one entry for every
// distinct key seen for the life of the process.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Middleware(writeErr WriteError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			if !rl.limiterFor(key).Allow() {
				w.Header().Set("Retry-After", "1")
				writeErr(w, apperr.New(apperr.RateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// RequestLogger logs method, path, status, and latency for every request.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Recover turns a panic in a downstream handler into a logged 500 instead
// of taking down the process, assigning a correlation id a client can
// quote when reporting the failure.
func Recover(writeErr WriteError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					correlationID := logger.ErrorWithCorrelation("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
					writeErr(w, apperr.New(apperr.Internal, "internal error ("+correlationID+")"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
