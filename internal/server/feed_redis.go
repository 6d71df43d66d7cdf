package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/geoquest/internal/geoquest"
)

// RedisChannel carries change events between store instances.
const RedisChannel = "geoquest:changes"

// RedisRelay publishes change events through Redis pub/sub and delivers
// every relayed event, including this instance's own, to the local Feed.
// When Redis rejects a publish the event is delivered locally only.
type RedisRelay struct {
	rdb    *redis.Client
	feed   *Feed
	logger *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, feed *Feed, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, feed: feed, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, ev geoquest.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding change event", "error", err)
		return
	}
	if err := r.rdb.Publish(ctx, RedisChannel, data).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally", "table", ev.Table, "error", err)
		r.feed.Publish(ctx, ev)
	}
}

// Run relays events from Redis into the local Feed until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, RedisChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", RedisChannel, err)
	}
	r.logger.Info("relaying change events", "channel", RedisChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev geoquest.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed change event", "error", err)
				continue
			}
			r.feed.Publish(ctx, ev)
		}
	}
}
