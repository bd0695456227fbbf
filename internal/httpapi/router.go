package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/hub"
	"github.com/cpu-jia/chatroom/internal/middleware"
	"github.com/cpu-jia/chatroom/internal/service"
)

// NewRouter assembles every endpoint from spec.md §6 onto a gorilla/mux
// router, grounded on the teacher's chat-system router wiring
// (06-projects/03-chat-system/main.go's http.HandleFunc set) generalized
// to mux's path-parameter routes.
func NewRouter(services *service.Services, authenticator *auth.Authenticator, h *hub.Hub, allowedOrigins []string) http.Handler {
	api := &api{services: services, auth: authenticator, hub: h}

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recover(writeError))
	r.Use(middleware.CORS(allowedOrigins))

	limiter := middleware.NewRateLimiter(rate.Limit(20), 40)
	r.Use(limiter.Middleware(writeError))

	r.HandleFunc("/health", api.health).Methods(http.MethodGet)

	// Everything else sits under the spec.md §6 version prefix.
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/auth/register", api.register).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", api.login).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh", api.refresh).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(middleware.RequireAuth(authenticator, writeError))

	authed.HandleFunc("/users/me", api.currentUser).Methods(http.MethodGet)
	authed.HandleFunc("/users/me", api.updateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/users/search", api.searchUsers).Methods(http.MethodGet)

	authed.HandleFunc("/rooms", api.createRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms", api.listRooms).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room_id}", api.getRoom).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room_id}", api.updateRoom).Methods(http.MethodPut)
	authed.HandleFunc("/rooms/{room_id}", api.closeRoom).Methods(http.MethodDelete)
	authed.HandleFunc("/rooms/{room_id}/join", api.joinRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room_id}/leave", api.leaveRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room_id}/members/online", api.onlineMembers).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room_id}/members", api.listMembers).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{room_id}/members", api.inviteMember).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room_id}/members/{user_id}", api.changeRole).Methods(http.MethodPut)
	authed.HandleFunc("/rooms/{room_id}/members/{user_id}", api.kickMember).Methods(http.MethodDelete)

	authed.HandleFunc("/rooms/{room_id}/messages", api.sendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{room_id}/messages", api.fetchHistory).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{message_id}", api.getMessage).Methods(http.MethodGet)
	authed.HandleFunc("/messages/{message_id}", api.deleteMessage).Methods(http.MethodDelete)

	authed.HandleFunc("/ws", api.serveWS).Methods(http.MethodGet)

	return r
}

type api struct {
	services *service.Services
	auth     *auth.Authenticator
	hub      *hub.Hub
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
