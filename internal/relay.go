package internal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Relay carries encoded chat events between gateway instances so members
// connected to different processes share one room.
type Relay interface {
	Publish(ctx context.Context, workspaceID int64, payload []byte) error
	// Subscribe confirms the subscription and then delivers events in a
	// background goroutine until ctx is done or the relay is closed.
	Subscribe(ctx context.Context, deliver func(workspaceID int64, payload []byte)) error
	Close() error
}

// RedisRelay implements Relay over Redis pub/sub. Every workspace has its own
// channel named <prefix><workspaceID>.
type RedisRelay struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, logger *slog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = "chat:workspace:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, prefix: prefix, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, workspaceID int64, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel(workspaceID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(workspaceID int64, payload []byte)) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	messages := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				workspaceID, ok := r.workspaceFromChannel(msg.Channel)
				if !ok {
					r.logger.Warn("ignoring relay message on unexpected channel", slog.String("channel", msg.Channel))
					continue
				}
				deliver(workspaceID, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}

func (r *RedisRelay) channel(workspaceID int64) string {
	return r.prefix + strconv.FormatInt(workspaceID, 10)
}

func (r *RedisRelay) workspaceFromChannel(channel string) (int64, bool) {
	raw, ok := strings.CutPrefix(channel, r.prefix)
	if !ok {
		return 0, false
	}
	workspaceID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return workspaceID, true
}
