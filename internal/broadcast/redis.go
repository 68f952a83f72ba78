package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher pushes events through Redis pub/sub so every replica sees
// them. Publish failures are logged and dropped.
type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("marshal event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		p.log.Warn("redis publish",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// RunBridge subscribes to all batch and customer channels on Redis and
// replays the events into the local hub for WebSocket clients attached to
// this replica. Blocks until ctx is done.
func RunBridge(ctx context.Context, client *redis.Client, hub *Hub, log *zap.Logger) {
	sub := client.PSubscribe(ctx, "batches.*", "customers.*")
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("bad event payload",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			hub.Publish(ctx, strings.TrimSpace(msg.Channel), ev)
		}
	}
}
