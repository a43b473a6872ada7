package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// LoopbackBus is the single-instance Bus used when no Redis URL is
// configured. Publishes are fanned out to in-process subscribers.
type LoopbackBus struct {
	logger hclog.Logger
	source string

	mu     sync.Mutex
	subs   map[string][]chan Event
	closed bool
}

func NewLoopbackBus(source string, logger hclog.Logger) *LoopbackBus {
	return &LoopbackBus{
		logger: logger.Named("bus"),
		source: source,
		subs:   make(map[string][]chan Event),
	}
}

func (b *LoopbackBus) Publish(ctx context.Context, channel string, payload interface{}) error {
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

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber backlogged, dropping event",
				"channel", channel, "event_id", event.ID)
		}
	}
	return nil
}

func (b *LoopbackBus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan Event)
	return nil
}
