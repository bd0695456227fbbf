package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/authz"
	"github.com/cpu-jia/chatroom/internal/bus"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/store"
)

const (
	minMessageLen     = 1
	maxMessageLen     = 10000
	defaultHistoryLen = 50
	maxHistoryLen     = 200
)

// MessagingService implements send/fetch/delete (spec.md §4.7). Like
// RoomService it does not touch Presence; the Hub maintains presence.
type MessagingService struct {
	store store.Store
	bus   bus.Bus
}

func NewMessagingService(st store.Store, b bus.Bus) *MessagingService {
	return &MessagingService{store: st, bus: b}
}

// Send validates and persists a message, then best-effort publishes it on
// the Bus. A publish failure does not roll back the write: the message is
// durable in the Store and will reach late subscribers on their next
// fetch_history call, it just misses the live fan-out (spec.md §4.2).
func (s *MessagingService) Send(callerID, roomID uuid.UUID, content string, kind model.MessageKind, replyTo *uuid.UUID, idempotencyKey string) (*model.Message, error) {
	if err := s.requireActiveUser(callerID); err != nil {
		return nil, err
	}
	if err := s.requireMember(callerID, roomID); err != nil {
		return nil, err
	}
	if len(content) < minMessageLen || len(content) > maxMessageLen {
		return nil, apperr.New(apperr.Validation, "message content must be 1-10000 characters")
	}
	switch kind {
	case model.MessageText, model.MessageImage, model.MessageFile:
	default:
		return nil, apperr.New(apperr.Validation, "unknown message kind")
	}

	msg, err := s.store.AppendMessage(roomID, callerID, content, kind, replyTo, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventMessageCreated, RoomID: roomID, Message: msg, ActorID: callerID,
	}); err != nil {
		return msg, apperr.Wrap(apperr.ExternalUnavailable, "message saved but live delivery unavailable", err)
	}
	return msg, nil
}

// Get fetches a single message by id (spec.md §6, GET /messages/{id}); the
// caller must be a member of the message's room.
func (s *MessagingService) Get(callerID, messageID uuid.UUID) (*model.Message, error) {
	msg, err := s.store.FindMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(callerID, msg.RoomID); err != nil {
		return nil, err
	}
	redacted := msg.Redacted()
	return &redacted, nil
}

// History returns a page of messages older than before, newest first. A
// nil before starts from the most recent message. A negative limit is a
// Validation error; a limit of 0 is not rejected but selects
// defaultHistoryLen (50); values above maxHistoryLen are clamped, not
// rejected, since clients may simply ask for "everything".
func (s *MessagingService) History(callerID, roomID uuid.UUID, before *store.Cursor, limit int) ([]model.Message, error) {
	if err := s.requireMember(callerID, roomID); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultHistoryLen
	}
	if limit < 0 {
		return nil, apperr.New(apperr.Validation, "limit must be positive")
	}
	if limit > maxHistoryLen {
		limit = maxHistoryLen
	}

	msgs, err := s.store.FetchHistory(roomID, before, limit)
	if err != nil {
		return nil, err
	}
	redacted := make([]model.Message, len(msgs))
	for i, m := range msgs {
		redacted[i] = m.Redacted()
	}
	return redacted, nil
}

// Delete tombstones a message: the author may delete their own message,
// an admin-or-above may delete anyone's.
func (s *MessagingService) Delete(callerID, messageID uuid.UUID) (*model.Message, error) {
	msg, err := s.store.FindMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveUser(callerID); err != nil {
		return nil, err
	}

	// Only fetch the caller's membership when they aren't the author: a
	// deleting author doesn't need to still be a room member, and
	// CheckSelfOrAdmin's self branch only reads caller.UserID.
	caller := &model.RoomMember{UserID: callerID}
	if callerID != msg.AuthorID {
		caller, err = s.store.FindMember(msg.RoomID, callerID)
		if err != nil {
			return nil, err
		}
	}
	if err := authz.CheckSelfOrAdmin(caller, msg.AuthorID); err != nil {
		return nil, err
	}

	deleted, err := s.store.MarkMessageDeleted(messageID, callerID)
	if err != nil {
		return nil, err
	}

	_ = s.bus.Publish(context.Background(), bus.Event{
		Type: bus.EventMessageDeleted, RoomID: deleted.RoomID, MessageID: deleted.ID, ActorID: callerID,
	})
	redacted := deleted.Redacted()
	return &redacted, nil
}

// MarkRead records the caller's read position; used by the WS surface's
// read-receipt frame.
func (s *MessagingService) MarkRead(callerID, roomID, messageID uuid.UUID) error {
	if err := s.requireActiveUser(callerID); err != nil {
		return err
	}
	if err := s.requireMember(callerID, roomID); err != nil {
		return err
	}
	return s.store.SetLastRead(roomID, callerID, messageID)
}

func (s *MessagingService) requireMember(userID, roomID uuid.UUID) error {
	member, err := s.store.FindMember(roomID, userID)
	if err != nil {
		return err
	}
	return authz.RequireMembership(member)
}

// requireActiveUser enforces spec.md §4.6 rule 6: a suspended/banned user
// is denied every state-changing messaging operation, not just login.
func (s *MessagingService) requireActiveUser(userID uuid.UUID) error {
	user, err := s.store.FindUserByID(userID)
	if err != nil {
		return err
	}
	return authz.RequireActiveUser(user)
}
