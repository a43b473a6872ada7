package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// Event wraps a payload published on the bus.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Bus fans push commands out to every control-plane instance, including the
// one that published. Publish is best-effort; delivery to an agent is
// confirmed by its results, not by the bus.
type Bus interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
	Close() error
}
