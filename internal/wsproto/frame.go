// Package wsproto defines the JSON frame shapes exchanged over the /ws
// connection (spec.md §6). Framing is intentionally simple: one JSON
// object per text frame, a "type" discriminator, and type-specific
// fields left at the top level rather than nested under a generic
// "data" key, which keeps encode/decode free of type assertions.
package wsproto

import "github.com/google/uuid"

type FrameType string

const (
	// Client -> server. A client "ping" is answered with "pong"; the server
	// also sends "ping" on every heartbeat tick, and a client "pong" sent in
	// reply is accepted and ignored.
	FramePing       FrameType = "ping"
	FrameJoinRoom    FrameType = "join_room"
	FrameLeaveRoom   FrameType = "leave_room"
	FrameMessage     FrameType = "message"
	FrameTyping      FrameType = "typing"
	FrameMarkRead    FrameType = "mark_read"

	// Server -> client
	FramePong          FrameType = "pong"
	FrameJoined        FrameType = "joined"
	FrameLeft          FrameType = "left"
	FrameMessageCreated FrameType = "message_created"
	FrameMessageDeleted FrameType = "message_deleted"
	FrameMemberJoined   FrameType = "member_joined"
	FrameMemberLeft     FrameType = "member_left"
	FrameRoomUpdated    FrameType = "room_updated"
	FrameRoomClosed     FrameType = "room_closed"
	FramePresence       FrameType = "presence"
	FrameError          FrameType = "error"
)

// Frame is the single wire shape for every direction. Only the fields
// relevant to Type are populated; the rest are left zero and omitted.
type Frame struct {
	Type           FrameType   `json:"type"`
	RoomID         uuid.UUID   `json:"room_id,omitempty"`
	Password       string      `json:"password,omitempty"`
	Content        string      `json:"content,omitempty"`
	Kind           string      `json:"kind,omitempty"`
	ReplyToID      *uuid.UUID  `json:"reply_to_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	MessageID      uuid.UUID   `json:"message_id,omitempty"`
	UserID         uuid.UUID   `json:"user_id,omitempty"`
	Typing         bool        `json:"typing,omitempty"`
	MemberCount    int         `json:"member_count,omitempty"`
	PresenceKind   string      `json:"presence_kind,omitempty"`
	RoomChanges    map[string]string `json:"room_changes,omitempty"`
	Message        interface{} `json:"message,omitempty"`
	Code           string      `json:"code,omitempty"`
	Error          string      `json:"error,omitempty"`
}
