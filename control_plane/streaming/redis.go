package streaming

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis pub/sub so push commands reach agents
// regardless of which control-plane instance holds their socket.
type RedisBus struct {
	client *redis.Client
	logger hclog.Logger
	source string
}

func NewRedisBus(addr string, password string, db int, source string, logger hclog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisBus{
		client: client,
		logger: logger.Named("bus"),
		source: source,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{
		ID:        uuid.NewString(),
		Channel:   channel,
		Payload:   data,
		Timestamp: time.Now().UTC(),
		Source:    b.source,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, raw).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping malformed bus event", "channel", channel, "error", err)
					continue
				}
				select {
				case out <- event:
				default:
					b.logger.Warn("subscriber backlogged, dropping event",
						"channel", channel, "event_id", event.ID)
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
