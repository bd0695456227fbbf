// Package service is the use-case orchestration layer: it is the only
// layer that talks to Store, Bus, Auth, and Authz together. Presence is
// maintained by the Hub; New accepts a Presence but no service uses it.
// Grounded on the teacher's blog-system Services aggregator
// (internal/service/services.go), generalized from blog concerns to the
// chat domain's three service groups.
package service

import (
	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/presence"
	"github.com/cpu-jia/chatroom/internal/store"
)

// Services aggregates the three use-case groups the HTTP/WS surface and
// the Hub depend on.
type Services struct {
	Auth      *AuthService
	Room      *RoomService
	Messaging *MessagingService
}

func New(st store.Store, b bus.Bus, pr presence.Presence, authenticator *auth.Authenticator) *Services {
	roomSvc := NewRoomService(st, b, authenticator)
	return &Services{
		Auth:      NewAuthService(st, authenticator),
		Room:      roomSvc,
		Messaging: NewMessagingService(st, b),
	}
}
