// Package authz enforces the role/password rules at room boundaries
// (spec.md §4.6). Rules are evaluated in the order the spec lists them;
// the first applicable rule wins and a deny is final.
package authz

import (
	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/model"
)

// Action names the operations authz can decide on.
type Action string

const (
	ActionCloseRoom     Action = "close_room"
	ActionChangePrivacy Action = "change_privacy"
	ActionDeleteRoom    Action = "delete_room"
	ActionAddAdmin      Action = "add_member_admin"
	ActionChangeRole    Action = "change_role"
	ActionRemoveMember  Action = "remove_member"
	ActionSendMessage   Action = "send_message"
	ActionFetchHistory  Action = "fetch_history"
	ActionJoinRoom      Action = "join_room"
	ActionLeaveRoom     Action = "leave_room"
)

// RequireActiveUser denies every state-changing operation for a user whose
// status is not active (spec.md §4.6 rule 6).
func RequireActiveUser(user *model.User) error {
	if user.Status != model.UserActive {
		return apperr.New(apperr.Authorization, "account is not active")
	}
	return nil
}

// RequireOwner enforces rule 1: close_room, change_privacy, delete_room.
func RequireOwner(member *model.RoomMember) error {
	if member.Role != model.RoleOwner {
		return apperr.New(apperr.Authorization, "only the room owner may do this")
	}
	return nil
}

// RequireAdminOrAbove enforces rule 2: promoting to admin, changing role,
// removing a member other than oneself.
func RequireAdminOrAbove(member *model.RoomMember) error {
	if member.Role.Rank() < model.RoleAdmin.Rank() {
		return apperr.New(apperr.Authorization, "requires admin or owner role")
	}
	return nil
}

// RequireMembership enforces rule 3: send_message, fetch_history, join_room
// all require membership. A missing membership maps to NotFound (404), not
// Authorization (403), so a caller can't distinguish "doesn't exist" from
// "exists but private" (spec.md §4.6).
func RequireMembership(member *model.RoomMember) error {
	if member == nil {
		return apperr.New(apperr.NotFound, "room not found")
	}
	return nil
}

// CheckPrivateRoomPassword enforces rule 4: joining a private room
// additionally requires the supplied password to match the stored hash.
// A mismatch is Authentication (401), per spec.md §4.6.
func CheckPrivateRoomPassword(verify func(hash, plain string) error, room *model.ChatRoom, password string) error {
	if !room.IsPrivate {
		return nil
	}
	if err := verify(room.SecretHash, password); err != nil {
		return apperr.New(apperr.Authentication, "incorrect room password")
	}
	return nil
}

// CheckLeaveRoom enforces rule 5: any member may leave except the owner,
// who must transfer ownership first.
func CheckLeaveRoom(member *model.RoomMember) error {
	if member.Role == model.RoleOwner {
		return apperr.New(apperr.Authorization, "owner must transfer ownership before leaving")
	}
	return nil
}

// CheckSelfOrAdmin allows an action against userID either by userID
// themself or by a caller with admin-or-above rank — used by
// MessagingService.Delete (author or admin-or-above).
func CheckSelfOrAdmin(caller *model.RoomMember, targetUserID uuid.UUID) error {
	if caller.UserID == targetUserID {
		return nil
	}
	return RequireAdminOrAbove(caller)
}

// Authenticator is the minimal surface needed to validate bearer tokens
// and resolve caller identity. No package uses it at present; the HTTP/WS
// surface authenticates through internal/middleware's own equivalent
// interface.
type Authenticator interface {
	Verify(token string, want auth.TokenType) (uuid.UUID, error)
}
