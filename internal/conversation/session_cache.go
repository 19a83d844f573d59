package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	conversationTTL  = 24 * time.Hour
	defaultCacheSize = 50
)

// ErrStaleWindow is returned by Fill when the user's window changed after the
// caller read its version.
var ErrStaleWindow = errors.New("conversation: cached window changed during fill")

// SessionCache keeps the most recent turns of each user in a capped Redis
// list. The oldest entries are dropped once the cap is reached.
type SessionCache struct {
	redis  *redis.Client
	tracer trace.Tracer
	size   int
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, size int, tracer trace.Tracer) *SessionCache {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	if tracer == nil {
		tracer = otel.Tracer("rxassist.internal.conversation.cache")
	}
	return &SessionCache{redis: client, tracer: tracer, size: size, ttl: conversationTTL}
}

// Size is the per-user cap.
func (c *SessionCache) Size() int { return c.size }

// Version returns the user's window version. Every Push and Clear bumps it,
// so a caller that reads it before loading the durable store can tell
// whether its snapshot is still current when it fills.
func (c *SessionCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.redis.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("conversation: failed to read cache version: %w", err)
	}
	return v, nil
}

// Push appends turns to an already cached window. A user with no cached
// window is left alone so a partial list is never created.
func (c *SessionCache) Push(ctx context.Context, userID string, turns ...Turn) error {
	ctx, span := c.tracer.Start(ctx, "conversation.cache_push")
	defer span.End()

	values, err := encodeTurns(turns)
	if err != nil {
		span.RecordError(err)
		return err
	}
	key := conversationKey(userID)
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPushX(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-c.size), -1)
		pipe.Expire(ctx, key, c.ttl)
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), c.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to push cached turns: %w", err)
	}
	return nil
}

// Fill replaces the cached window with turns read from the durable store.
// version must be the value Version returned before that read; when a Push
// or Clear happened since, nothing is written and ErrStaleWindow is returned.
func (c *SessionCache) Fill(ctx context.Context, userID string, turns []Turn, version int64) error {
	ctx, span := c.tracer.Start(ctx, "conversation.cache_fill")
	defer span.End()

	if len(turns) > c.size {
		turns = turns[len(turns)-c.size:]
	}
	key := conversationKey(userID)
	vkey := versionKey(userID)
	values, err := encodeTurns(turns)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrStaleWindow
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				pipe.RPush(ctx, key, values...)
				pipe.Expire(ctx, key, c.ttl)
			}
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleWindow), errors.Is(err, redis.TxFailedErr):
		return ErrStaleWindow
	default:
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to fill cache: %w", err)
	}
}

// Recent returns up to limit cached turns, oldest first. ok is false when
// the user has no cached window.
func (c *SessionCache) Recent(ctx context.Context, userID string, limit int) (turns []Turn, ok bool, err error) {
	ctx, span := c.tracer.Start(ctx, "conversation.cache_recent")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := c.redis.LRange(ctx, conversationKey(userID), start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("conversation: failed to load cached turns: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	turns = make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			span.RecordError(err)
			return nil, false, fmt.Errorf("conversation: failed to decode cached turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, true, nil
}

func (c *SessionCache) Clear(ctx context.Context, userID string) error {
	ctx, span := c.tracer.Start(ctx, "conversation.cache_clear")
	defer span.End()

	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, conversationKey(userID))
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), c.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to clear cache: %w", err)
	}
	return nil
}

func encodeTurns(turns []Turn) ([]any, error) {
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("conversation: failed to marshal turn: %w", err)
		}
		values = append(values, data)
	}
	return values, nil
}

func conversationKey(userID string) string {
	return fmt.Sprintf("conversation:%s", userID)
}

func versionKey(userID string) string {
	return fmt.Sprintf("conversation:%s:version", userID)
}
