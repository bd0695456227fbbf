// Package model holds the persistent entities from the data model section:
// User, ChatRoom, RoomMember, and Message. Struct tagging follows the
// teacher's GORM model conventions, adapted to UUID primary keys since the
// spec mandates opaque, server-assigned ids rather than auto-increment
// integers.
package model

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

type User struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Username  string     `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email     string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"size:255;not null" json:"-"`
	Status    UserStatus `gorm:"size:20;not null;default:active" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (User) TableName() string { return "users" }

type ChatRoom struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	IsPrivate  bool      `gorm:"not null;default:false" json:"is_private"`
	SecretHash string    `gorm:"size:255" json:"-"`
	IsClosed   bool      `gorm:"not null;default:false" json:"is_closed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

type RoomRole string

const (
	RoleOwner  RoomRole = "owner"
	RoleAdmin  RoomRole = "admin"
	RoleMember RoomRole = "member"
)

// Rank gives the total order owner > admin > member used by internal/authz.
func (r RoomRole) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

type RoomMember struct {
	RoomID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"room_id"`
	UserID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role          RoomRole   `gorm:"size:20;not null" json:"role"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastReadMsgID *uuid.UUID `gorm:"type:uuid" json:"last_read_message_id,omitempty"`
}

func (RoomMember) TableName() string { return "room_members" }

type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageImage MessageKind = "image"
	MessageFile  MessageKind = "file"
)

const DeletedContentSentinel = "[deleted]"

type Message struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID    uuid.UUID   `gorm:"type:uuid;not null;index:idx_room_history,priority:1" json:"room_id"`
	AuthorID  uuid.UUID   `gorm:"type:uuid;not null;index" json:"author_id"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Kind      MessageKind `gorm:"size:20;not null" json:"kind"`
	ReplyToID *uuid.UUID  `gorm:"type:uuid" json:"reply_to_id,omitempty"`
	CreatedAt time.Time   `gorm:"index:idx_room_history,priority:2,sort:desc;not null" json:"created_at"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
	IsDeleted bool        `gorm:"not null;default:false" json:"is_deleted"`

	// IdempotencyKey holds a client-supplied dedup key; internal/store
	// matches it together with (room_id, author_id) within a 60s window.
	IdempotencyKey  string `gorm:"size:100;index:idx_idempotency" json:"-"`
}

func (Message) TableName() string { return "messages" }

// Redacted returns the message as it should be served to clients: if
// IsDeleted, content is replaced by the tombstone sentinel but the kind and
// ordering slot are preserved.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = DeletedContentSentinel
	}
	return m
}
