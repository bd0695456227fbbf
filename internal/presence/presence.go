// Package presence tracks, per room, the set of currently-connected
// user ids, held in Redis so every backend instance observes the same
// view (spec.md §4.4). Process-local state (the Hub's refcounts) is only a
// cache over this — losing it just means the next pong re-syncs it.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
)

const callTimeout = 5 * time.Second

// Presence is the interface the Hub depends on.
type Presence interface {
	Add(ctx context.Context, roomID, userID uuid.UUID) error
	Remove(ctx context.Context, roomID, userID uuid.UUID) error
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	// Refresh extends the TTL of the presence entry; called on every pong.
	Refresh(ctx context.Context, roomID, userID uuid.UUID, ttl time.Duration) error
}

func key(roomID uuid.UUID) string {
	return fmt.Sprintf("room:presence:%s", roomID)
}

// RedisPresence implements Presence over a Redis set per room. Add only
// inserts the member; Refresh (which the Hub calls on join and on every
// pong) re-inserts it and resets the set's TTL to the given duration, 2x
// the heartbeat interval (spec.md §4.4), so a crashed instance's
// contributions self-heal without an explicit cleanup pass.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) Add(ctx context.Context, roomID, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := p.client.SAdd(ctx, key(roomID), userID.String()).Err(); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "presence add", err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, roomID, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := p.client.SRem(ctx, key(roomID), userID.String()).Err(); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "presence remove", err)
	}
	return nil
}

func (p *RedisPresence) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	raw, err := p.client.SMembers(ctx, key(roomID)).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "presence members", err)
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (p *RedisPresence) Refresh(ctx context.Context, roomID, userID uuid.UUID, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	k := key(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, k, userID.String())
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Wrap(apperr.ExternalUnavailable, "presence refresh", err)
	}
	return nil
}
