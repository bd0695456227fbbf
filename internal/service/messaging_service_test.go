package service

import (
	"testing"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/model"
)

func TestSendValidatesMembershipAndContent(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	roomSvc := NewRoomService(st, b, authenticator)
	msgSvc := NewMessagingService(st, b)

	owner := mustRegister(t, st, "owner")
	outsider := mustRegister(t, st, "outsider")
	room, err := roomSvc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := msgSvc.Send(outsider, room.ID, "hi", model.MessageText, nil, ""); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("non-member sending should be NotFound, got %v", err)
	}
	if _, err := msgSvc.Send(owner, room.ID, "", model.MessageText, nil, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("empty content should be Validation, got %v", err)
	}
	if _, err := msgSvc.Send(owner, room.ID, "hi", model.MessageKind("bogus"), nil, ""); !apperr.Is(err, apperr.Validation) {
		t.Errorf("unknown kind should be Validation, got %v", err)
	}

	msg, err := msgSvc.Send(owner, room.ID, "hello room", model.MessageText, nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Content != "hello room" {
		t.Errorf("msg.Content = %q, want %q", msg.Content, "hello room")
	}
	if len(b.events()) != 1 {
		t.Errorf("Send should publish one event, got %d", len(b.events()))
	}
}

func TestSendSurvivesPublishFailure(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	roomSvc := NewRoomService(st, b, authenticator)
	msgSvc := NewMessagingService(st, b)

	owner := mustRegister(t, st, "owner")
	room, err := roomSvc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	b.failNext = true
	msg, err := msgSvc.Send(owner, room.ID, "hello", model.MessageText, nil, "")
	if !apperr.Is(err, apperr.ExternalUnavailable) {
		t.Errorf("publish failure should surface as ExternalUnavailable, got %v", err)
	}
	if msg == nil {
		t.Fatal("message should still be returned even when the live fan-out fails")
	}

	// The write itself must have durably happened despite the publish error.
	history, err := msgSvc.History(owner, room.ID, nil, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("len(history) = %d, want 1", len(history))
	}
}

func TestHistoryLimitValidationAndClamping(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	roomSvc := NewRoomService(st, b, authenticator)
	msgSvc := NewMessagingService(st, b)

	owner := mustRegister(t, st, "owner")
	room, err := roomSvc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := msgSvc.Send(owner, room.ID, "hi", model.MessageText, nil, ""); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if _, err := msgSvc.History(owner, room.ID, nil, -1); !apperr.Is(err, apperr.Validation) {
		t.Errorf("negative limit should be Validation, got %v", err)
	}

	withDefault, err := msgSvc.History(owner, room.ID, nil, 0)
	if err != nil {
		t.Fatalf("History with default limit: %v", err)
	}
	if len(withDefault) != 3 {
		t.Errorf("len(withDefault) = %d, want 3", len(withDefault))
	}

	// A limit above maxHistoryLen is clamped, not rejected.
	clamped, err := msgSvc.History(owner, room.ID, nil, 10000)
	if err != nil {
		t.Errorf("an overlarge limit should be clamped rather than rejected, got %v", err)
	}
	if len(clamped) != 3 {
		t.Errorf("len(clamped) = %d, want 3", len(clamped))
	}
}

func TestHistoryRedactsDeletedMessages(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	roomSvc := NewRoomService(st, b, authenticator)
	msgSvc := NewMessagingService(st, b)

	owner := mustRegister(t, st, "owner")
	room, err := roomSvc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg, err := msgSvc.Send(owner, room.ID, "sensitive", model.MessageText, nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := msgSvc.Delete(owner, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	history, err := msgSvc.History(owner, room.ID, nil, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].Content != model.DeletedContentSentinel {
		t.Errorf("deleted message content = %q, want sentinel", history[0].Content)
	}
}

func TestDeleteAllowsAuthorOrAdminOnly(t *testing.T) {
	st, b, authenticator := newTestEnv(t)
	roomSvc := NewRoomService(st, b, authenticator)
	msgSvc := NewMessagingService(st, b)

	owner := mustRegister(t, st, "owner")
	member := mustRegister(t, st, "member")
	other := mustRegister(t, st, "other")

	room, err := roomSvc.Create(owner, "general", false, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := roomSvc.Join(member, room.ID, ""); err != nil {
		t.Fatalf("Join member: %v", err)
	}
	if _, _, err := roomSvc.Join(other, room.ID, ""); err != nil {
		t.Fatalf("Join other: %v", err)
	}

	msg, err := msgSvc.Send(member, room.ID, "mine", model.MessageText, nil, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := msgSvc.Delete(other, msg.ID); !apperr.Is(err, apperr.Authorization) {
		t.Errorf("unrelated member deleting should be Authorization, got %v", err)
	}
	if _, err := msgSvc.Delete(owner, msg.ID); err != nil {
		t.Errorf("owner (admin-or-above) deleting another's message should succeed, got %v", err)
	}
}
