package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/streaming"
	"github.com/itskum47/PulseForge/wire"
)

// pushChannel is the bus channel HTTP routes publish out-of-band commands
// on. Every control-plane instance subscribes and delivers to the agents
// it holds sockets for.
const pushChannel = "push_commands"

// PushBridge forwards bus events to agent sockets. A payload with a
// device_id goes to that device; without one it is broadcast to every
// connected agent.
type PushBridge struct {
	bus     streaming.Bus
	hub     *Hub
	channel string
	logger  hclog.Logger
}

func NewPushBridge(bus streaming.Bus, hub *Hub, logger hclog.Logger) *PushBridge {
	return &PushBridge{
		bus:     bus,
		hub:     hub,
		channel: pushChannel,
		logger:  logger.Named("push_bridge"),
	}
}

// Run subscribes and consumes until the context is cancelled, resubscribing
// with a 5s backoff whenever the transport drops.
func (b *PushBridge) Run(ctx context.Context) {
	for {
		events, err := b.bus.Subscribe(ctx, b.channel)
		if err != nil {
			b.logger.Error("subscribe failed, retrying", "channel", b.channel, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		b.consume(ctx, events)
		if ctx.Err() != nil {
			return
		}

		b.logger.Warn("subscription closed, resubscribing", "channel", b.channel)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *PushBridge) consume(ctx context.Context, events <-chan streaming.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			b.deliver(event)
		}
	}
}

func (b *PushBridge) deliver(event streaming.Event) {
	var env wire.Envelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		b.logger.Warn("dropping malformed push command", "event_id", event.ID, "error", err)
		return
	}
	if env.Type == "" {
		b.logger.Warn("dropping push command without type", "event_id", event.ID)
		return
	}

	if env.DeviceID != "" {
		if !b.hub.SendToAgent(env.DeviceID, env) {
			b.logger.Debug("push target not connected here",
				"device_id", env.DeviceID, "type", env.Type)
		}
		return
	}

	for _, deviceID := range b.hub.ConnectedAgentIDs() {
		b.hub.SendToAgent(deviceID, env)
	}
}
