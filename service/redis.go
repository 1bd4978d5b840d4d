package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ticketflow-cli/model"
)

const (
	// EventField is the stream entry field holding the ChangeEvent JSON.
	EventField   = "event"
	redisBlock   = 5 * time.Second
	redisBatch   = 100
	streamPrefix = "ticketflow:seats:"
)

// SeatStreamKey names the Redis stream carrying a show's seat changes.
func SeatStreamKey(showID uuid.UUID) string {
	return streamPrefix + showID.String()
}

// RedisStream follows seat changes published to a Redis stream per show.
type RedisStream struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

func NewRedisStream(rdb redis.UniversalClient, logger *slog.Logger) *RedisStream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisStream{rdb: rdb, logger: logger}
}

// Subscribe starts after the newest entry present at call time, so only
// changes committed after subscribing are delivered.
func (r *RedisStream) Subscribe(ctx context.Context, showID uuid.UUID) (*Subscription[model.ChangeEvent], error) {
	key := SeatStreamKey(showID)
	lastID := "0-0"
	latest, err := r.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read stream head %s: %w", key, err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	sub, subCtx := newSubscription[model.ChangeEvent](ctx)
	go func() {
		sub.finish(subCtx, r.pump(subCtx, key, lastID, showID, sub))
	}()
	return sub, nil
}

func (r *RedisStream) pump(ctx context.Context, key, lastID string, showID uuid.UUID, sub *Subscription[model.ChangeEvent]) error {
	for {
		streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   redisBatch,
			Block:   redisBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("xread %s: %w", key, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values[EventField].(string)
				if !ok {
					r.logger.Debug("dropping stream entry without event field", "id", msg.ID)
					continue
				}
				ev, err := DecodeChangeEvent([]byte(raw))
				if err != nil || ev.New.ShowId != showID {
					r.logger.Debug("dropping stream entry", "id", msg.ID, "err", err)
					continue
				}
				if !sub.deliver(ctx, ev) {
					return ctx.Err()
				}
			}
		}
	}
}
