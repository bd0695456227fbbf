package service

import (
	"testing"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/model"
)

func mustRegister(t *testing.T, st interface {
	CreateUser(username, email, passwordHash string) (*model.User, error)
}, username string) uuid.UUID {
	t.Helper()
	u, err := st.CreateUser(username, username+"@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return u.ID
}

func TestCreateRoomValidation(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")

	if _, err := svc.Create(owner, "", false, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("empty name should be Validation, got %v", err)
	}
	if _, err := svc.Create(owner, "secret-room", true, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("private room without password should be Validation, got %v", err)
	}

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if room.Name != "general" {
		t.Errorf("room.Name = %q, want general", room.Name)
	}
}

func TestJoinPublicRoom(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	joiner := mustRegister(t, st, "joiner")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, member, err := svc.Join(joiner, room.ID, "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if member.Role != model.RoleMember {
		t.Errorf("joiner role = %s, want member", member.Role)
	}
	if len(b.events()) == 0 {
		t.Error("Join should publish a member_joined event")
	}
}

func TestJoinPrivateRoomRequiresPasswordEvenIfAlreadyInvited(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	invitee := mustRegister(t, st, "invitee")

	room, err := svc.Create(owner, "secret-room", true, "swordfish")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Invite(owner, room.ID, invitee, model.RoleMember); err != nil {
		t.Fatalf("Invite: %v", err)
	}

	// Already invited, but still must supply the correct password.
	if _, _, err := svc.Join(invitee, room.ID, "wrong"); !apperr.Is(err, apperr.Authentication) {
		t.Errorf("wrong password on an already-invited member should be Authentication, got %v", err)
	}
	if _, _, err := svc.Join(invitee, room.ID, "swordfish"); err != nil {
		t.Errorf("correct password on an already-invited member should succeed, got %v", err)
	}
}

func TestJoinIsIdempotentForExistingMember(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	joiner := mustRegister(t, st, "joiner")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Join(joiner, room.ID, ""); err != nil {
		t.Fatalf("first Join: %v", err)
	}
	if _, _, err := svc.Join(joiner, room.ID, ""); err != nil {
		t.Errorf("second Join on an already-joined room should be idempotent, got %v", err)
	}
}

func TestJoinRejectsClosedRoom(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	joiner := mustRegister(t, st, "joiner")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Close(owner, room.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, _, err := svc.Join(joiner, room.ID, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("joining a closed room should be Validation, got %v", err)
	}
}

func TestCloseRoomRequiresOwner(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	member := mustRegister(t, st, "member")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Join(member, room.ID, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := svc.Close(member, room.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("non-owner closing a room should be Authorization, got %v", err)
	}
	if err := svc.Close(owner, room.ID); err != nil {
		t.Errorf("owner closing a room should succeed, got %v", err)
	}
}

func TestLeaveDeniesOwner(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Leave(owner, room.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("owner leaving without transferring ownership should be Authorization, got %v", err)
	}
}

func TestInvitingAsAdminRequiresCallerAdminOrAbove(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	member := mustRegister(t, st, "member")
	target := mustRegister(t, st, "target")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Join(member, room.ID, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := svc.Invite(member, room.ID, target, model.RoleAdmin); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("plain member inviting as admin should be Authorization, got %v", err)
	}
	if err := svc.Invite(member, room.ID, target, model.RoleMember); err != nil {
		t.Errorf("plain member inviting as member should succeed, got %v", err)
	}
}

func TestKickAlwaysRequiresAdminOrAbove(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	memberA := mustRegister(t, st, "member-a")
	memberB := mustRegister(t, st, "member-b")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := svc.Join(memberA, room.ID, ""); err != nil {
		t.Fatalf("Join A: %v", err)
	}
	if _, _, err := svc.Join(memberB, room.ID, ""); err != nil {
		t.Fatalf("Join B: %v", err)
	}

	if err := svc.Kick(memberA, room.ID, memberB); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("plain member kicking another member should be Authorization, got %v", err)
	}
	if err := svc.Kick(owner, room.ID, memberB); err != nil {
		t.Errorf("owner kicking a member should succeed, got %v", err)
	}
}

func TestGetRoomRequiresMembership(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	svc := NewRoomService(st, b, authenticator)
	owner := mustRegister(t, st, "owner")
	outsider := mustRegister(t, st, "outsider")

	room, err := svc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Get(outsider, room.ID); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("non-member fetching a room should see NotFound, got %v", err)
	}
	if _, err := svc.Get(owner, room.ID); err != nil {
		t.Errorf("member fetching a room should succeed, got %v", err)
	}
}
