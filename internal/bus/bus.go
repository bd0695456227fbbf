// Package bus is the cross-instance event fan-out (spec.md §4.2): Redis
// pub/sub channels, one per room, at-most-once delivery with no replay.
// Durability is the Store's job; a subscriber disconnected at publish time
// simply never sees that event and must re-fetch history on reconnect.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/model"
)

// EventType names the wire shapes from spec.md §4.2.
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventMessageDeleted EventType = "message_deleted"
	EventMemberJoined   EventType = "member_joined"
	EventMemberLeft     EventType = "member_left"
	EventRoomUpdated    EventType = "room_updated"
	EventRoomClosed     EventType = "room_closed"
	EventPresence       EventType = "presence"
	EventTyping         EventType = "typing"
)

// Event is the envelope published on a room's channel and received by every
// subscriber. Only the fields relevant to Type are populated.
type Event struct {
	Type           EventType         `json:"type"`
	RoomID         uuid.UUID         `json:"room_id"`
	Message        *model.Message    `json:"message,omitempty"`
	MessageID      uuid.UUID         `json:"message_id,omitempty"`
	ActorID        uuid.UUID         `json:"actor_id,omitempty"`
	UserID         uuid.UUID         `json:"user_id,omitempty"`
	PresenceKind   string            `json:"presence_kind,omitempty"` // connected | disconnected
	Typing         bool              `json:"typing,omitempty"`
	RoomChanges    map[string]string `json:"room_changes,omitempty"`
}

const publishTimeout = 5 * time.Second

func channelFor(roomID uuid.UUID) string {
	return fmt.Sprintf("room:events:%s", roomID)
}

// Bus is the interface the Messaging Service and Hub depend on, so a test
// can swap in a fake without a real Redis instance.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events for roomID and a cancel func
	// that must be called to stop the underlying subscription goroutine.
	Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan Event, func(), error)
	Close() error
}

// RedisBus is grounded on the teacher's RedisCache client setup
// (04-web/08-caching/main.go), generalized from GET/SET to PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(addr, password string, db, poolSize int) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal bus event", err)
	}

	if err := b.client.Publish(ctx, channelFor(event.RoomID), payload).Err(); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "publish bus event", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, channelFor(roomID))

	// Confirm the subscription actually succeeded before handing back a
	// channel, so a Redis outage surfaces as an error here rather than as a
	// silently empty stream.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, apperr.Wrap(apperr.ExternalUnavailable, "subscribe to room channel", err)
	}

	out := make(chan Event, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		sub.Close()
	}
	return out, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
