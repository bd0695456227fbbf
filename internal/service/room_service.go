package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/auth"
	"github.com/cpu-jia/chatroom/internal/authz"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/store"
)

// RoomService implements the room-boundary operations from spec.md §4.1
// and §4.6: create/update/close, join/leave, and membership management.
// Sends and history live in MessagingService instead, per spec.md §4.7.
type RoomService struct {
	store         store.Store
	bus           bus.Bus
	authenticator *auth.Authenticator
}

func NewRoomService(st store.Store, b bus.Bus, authenticator *auth.Authenticator) *RoomService {
	return &RoomService{store: st, bus: b, authenticator: authenticator}
}

func (s *RoomService) Create(ownerID uuid.UUID, name string, isPrivate bool, password string) (*model.ChatRoom, error) {
	if err := s.requireActiveUser(ownerID); err != nil {
		return nil, err
	}
	if len(name) < 1 || len(name) > 100 {
		return nil, apperr.New(apperr.Validation, "room name must be 1-100 characters")
	}
	var secretHash string
	if isPrivate {
		if password == "" {
			return nil, apperr.New(apperr.Validation, "private room requires a password")
		}
		hash, err := s.authenticator.HashPassword(password)
		if err != nil {
			return nil, err
		}
		secretHash = hash
	}
	return s.store.CreateRoom(ownerID, name, isPrivate, secretHash)
}

func (s *RoomService) Get(callerID, roomID uuid.UUID) (*model.ChatRoom, error) {
	room, err := s.store.FindRoomByID(roomID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(callerID, roomID); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *RoomService) ListForUser(userID uuid.UUID) ([]store.RoomSummary, error) {
	return s.store.ListRoomsForUser(userID)
}

type RoomUpdate struct {
	Name      *string
	IsPrivate *bool
	Password  *string
}

func (s *RoomService) Update(callerID, roomID uuid.UUID, upd RoomUpdate) (*model.ChatRoom, error) {
	if err := s.requireActiveUser(callerID); err != nil {
		return nil, err
	}
	member, err := s.requireMember(callerID, roomID)
	if err != nil {
		return nil, err
	}
	if upd.IsPrivate != nil {
		if err := authz.RequireOwner(member); err != nil {
			return nil, err
		}
	}

	var secretHash *string
	if upd.Password != nil {
		hash, err := s.authenticator.HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		secretHash = &hash
	}

	room, err := s.store.UpdateRoom(roomID, upd.Name, upd.IsPrivate, secretHash)
	if err != nil {
		return nil, err
	}

	changes := map[string]string{}
	if upd.Name != nil {
		changes["name"] = *upd.Name
	}
	if upd.IsPrivate != nil {
		changes["is_private"] = boolStr(*upd.IsPrivate)
	}
	_ = s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventRoomUpdated, RoomID: roomID, RoomChanges: changes,
	})
	return room, nil
}

func (s *RoomService) Close(callerID, roomID uuid.UUID) error {
	if err := s.requireActiveUser(callerID); err != nil {
		return err
	}
	member, err := s.requireMember(callerID, roomID)
	if err != nil {
		return err
	}
	if err := authz.RequireOwner(member); err != nil {
		return err
	}
	if err := s.store.CloseRoom(roomID); err != nil {
		return err
	}
	_ = s.bus.Publish(context.Background(), bus.Event{Type: bus.EventRoomClosed, RoomID: roomID})
	return nil
}

// Join attempts to both verify access to, and establish membership in, a
// room. Public rooms admit any active user on first ask; private rooms
// additionally require the stored password to match, whether or not the
// caller was already invited (spec.md §8 scenario 3: an invited member
// still supplies the password on join).
func (s *RoomService) Join(userID, roomID uuid.UUID, password string) (*model.ChatRoom, *model.RoomMember, error) {
	if err := s.requireActiveUser(userID); err != nil {
		return nil, nil, err
	}
	room, err := s.store.FindRoomByID(roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.IsClosed {
		return nil, nil, apperr.New(apperr.Validation, "room is closed")
	}
	if err := authz.CheckPrivateRoomPassword(s.authenticator.VerifyPassword, room, password); err != nil {
		return nil, nil, err
	}

	newlyJoined := true
	if err := s.store.AddMember(roomID, userID, model.RoleMember); err != nil {
		if apperr.Is(err, apperr.Conflict) {
			newlyJoined = false // already a member: idempotent re-join
		} else {
			return nil, nil, err
		}
	}

	member, err := s.store.FindMember(roomID, userID)
	if err != nil {
		return nil, nil, err
	}

	if newlyJoined {
		_ = s.bus.Publish(context.Background(), bus.Event{
			Type: bus.EventMemberJoined, RoomID: roomID, UserID: userID,
		})
	}
	return room, member, nil
}

func (s *RoomService) Leave(userID, roomID uuid.UUID) error {
	if err := s.requireActiveUser(userID); err != nil {
		return err
	}
	member, err := s.requireMember(userID, roomID)
	if err != nil {
		return err
	}
	if err := authz.CheckLeaveRoom(member); err != nil {
		return err
	}
	if err := s.store.RemoveMember(roomID, userID); err != nil {
		return err
	}
	_ = s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventMemberLeft, RoomID: roomID, UserID: userID,
	})
	return nil
}

func (s *RoomService) ListMembers(callerID, roomID uuid.UUID) ([]model.RoomMember, error) {
	if _, err := s.requireMember(callerID, roomID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(roomID)
}

// Invite adds targetUserID to the room. Assigning the admin role requires
// the caller to already be admin-or-above (spec.md §4.6 rule 2); inviting
// as a plain member only requires the caller to already be a member.
func (s *RoomService) Invite(callerID, roomID, targetUserID uuid.UUID, role model.RoomRole) error {
	if err := s.requireActiveUser(callerID); err != nil {
		return err
	}
	caller, err := s.requireMember(callerID, roomID)
	if err != nil {
		return err
	}
	if role == model.RoleAdmin || role == model.RoleOwner {
		if err := authz.RequireAdminOrAbove(caller); err != nil {
			return err
		}
	}
	if err := s.store.AddMember(roomID, targetUserID, role); err != nil {
		return err
	}
	_ = s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventMemberJoined, RoomID: roomID, UserID: targetUserID,
	})
	return nil
}

func (s *RoomService) ChangeRole(callerID, roomID, targetUserID uuid.UUID, role model.RoomRole) error {
	if err := s.requireActiveUser(callerID); err != nil {
		return err
	}
	caller, err := s.requireMember(callerID, roomID)
	if err != nil {
		return err
	}
	if err := authz.RequireAdminOrAbove(caller); err != nil {
		return err
	}
	return s.store.ChangeRole(roomID, targetUserID, role)
}

// Kick removes targetUserID from the room; always requires admin-or-above,
// since self-removal is the separate Leave operation.
func (s *RoomService) Kick(callerID, roomID, targetUserID uuid.UUID) error {
	if err := s.requireActiveUser(callerID); err != nil {
		return err
	}
	caller, err := s.requireMember(callerID, roomID)
	if err != nil {
		return err
	}
	if err := authz.RequireAdminOrAbove(caller); err != nil {
		return err
	}
	if err := s.store.RemoveMember(roomID, targetUserID); err != nil {
		return err
	}
	_ = s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventMemberLeft, RoomID: roomID, UserID: targetUserID,
	})
	return nil
}

// requireActiveUser enforces spec.md §4.6 rule 6: a suspended/banned user
// is denied every state-changing room operation, not just login.
func (s *RoomService) requireActiveUser(userID uuid.UUID) error {
	user, err := s.store.FindUserByID(userID)
	if err != nil {
		return err
	}
	return authz.RequireActiveUser(user)
}

func (s *RoomService) requireMember(userID, roomID uuid.UUID) (*model.RoomMember, error) {
	member, err := s.store.FindMember(roomID, userID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, apperr.New(apperr.NotFound, "room not found")
		}
		return nil, err
	}
	return member, authz.RequireMembership(member)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
