package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// Publisher is the slice of the go-redis client the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes each instruction as a JSON message on a Redis
// pub/sub channel. Subscribers own delivery and attachment cleanup.
type RedisPublisher struct {
	client  Publisher
	channel string
}

func NewRedisPublisher(client Publisher, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

var _ ports.InstructionDispatcher = (*RedisPublisher)(nil)

func (p *RedisPublisher) Dispatch(ctx context.Context, instructions []lifecycle.Instruction) error {
	for _, in := range instructions {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s instruction for task %s: %w", in.Kind, in.TaskID, err)
		}
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s instruction for task %s: %w", in.Kind, in.TaskID, err)
		}
	}
	return nil
}
