// Package store is the durable persistence layer: users, rooms, members,
// messages. It owns the ordering and uniqueness guarantees the rest of the
// system relies on (spec.md §4.1).
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/model"
)

// Cursor identifies a position in a room's message history, per the
// (created_at, id) total order.
type Cursor struct {
	CreatedAt time.Time
	MessageID uuid.UUID
}

type PagingParams struct {
	Limit int
}

// RoomSummary is a ChatRoom plus the caller's membership, returned by
// ListRoomsForUser.
type RoomSummary struct {
	Room   model.ChatRoom
	Member model.RoomMember
}

// Store is the full repository surface described in spec.md §4.1. A single
// implementation (GormStore) backs both Postgres and SQLite.
type Store interface {
	// Users
	CreateUser(username, email, passwordHash string) (*model.User, error)
	FindUserByID(id uuid.UUID) (*model.User, error)
	FindUserByName(username string) (*model.User, error)
	FindUserByEmail(email string) (*model.User, error)
	SearchUsers(query string, limit, offset int) ([]model.User, error)
	UpdateUserProfile(id uuid.UUID, username *string) (*model.User, error)
	SetUserStatus(id uuid.UUID, status model.UserStatus) error

	// Rooms
	CreateRoom(owner uuid.UUID, name string, isPrivate bool, secretHash string) (*model.ChatRoom, error)
	UpdateRoom(id uuid.UUID, name *string, isPrivate *bool, secretHash *string) (*model.ChatRoom, error)
	CloseRoom(id uuid.UUID) error
	FindRoomByID(id uuid.UUID) (*model.ChatRoom, error)
	FindRoomByName(name string) (*model.ChatRoom, error)
	ListRoomsForUser(userID uuid.UUID) ([]RoomSummary, error)

	// Members
	AddMember(roomID, userID uuid.UUID, role model.RoomRole) error
	RemoveMember(roomID, userID uuid.UUID) error
	ChangeRole(roomID, userID uuid.UUID, role model.RoomRole) error
	ListMembers(roomID uuid.UUID) ([]model.RoomMember, error)
	FindMember(roomID, userID uuid.UUID) (*model.RoomMember, error)

	// Messages
	AppendMessage(roomID, authorID uuid.UUID, content string, kind model.MessageKind, replyTo *uuid.UUID, idempotencyKey string) (*model.Message, error)
	MarkMessageDeleted(messageID, actorID uuid.UUID) (*model.Message, error)
	FindMessageByID(id uuid.UUID) (*model.Message, error)
	FetchHistory(roomID uuid.UUID, before *Cursor, limit int) ([]model.Message, error)
	SetLastRead(roomID, userID, messageID uuid.UUID) error

	Close() error
}
