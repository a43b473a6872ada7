// Package coordination holds the control plane's background sweeps: the
// offline detector, the alert rule engine, and data retention.
package coordination

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/wire"
)

// Registry is the slice of the connection hub the sweeps need.
type Registry interface {
	IsConnected(deviceID string) bool
	Broadcast(v interface{})
}

// Notifier delivers operator-facing side effects. Implementations must be
// safe for concurrent use and must never block a sweep on delivery.
type Notifier interface {
	DeviceOffline(ctx context.Context, d *store.Device)
	AlertTriggered(ctx context.Context, rule *store.AlertRule, d *store.Device, observed float64)
}

// OfflineMonitor flips silent online devices to offline.
type OfflineMonitor struct {
	store    store.Store
	registry Registry
	notifier Notifier
	logger   hclog.Logger

	interval time.Duration
	warmup   time.Duration
}

func NewOfflineMonitor(s store.Store, reg Registry, n Notifier, logger hclog.Logger) *OfflineMonitor {
	return &OfflineMonitor{
		store:    s,
		registry: reg,
		notifier: n,
		logger:   logger.Named("offline_monitor"),
		interval: 60 * time.Second,
		warmup:   60 * time.Second,
	}
}

// Run sweeps every interval after an initial warm-up, so agents get a full
// window to reconnect after a server restart before anything is flipped.
func (m *OfflineMonitor) Run(ctx context.Context) {
	m.logger.Info("starting offline monitor", "interval", m.interval, "warmup", m.warmup)

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.warmup):
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep transitions every silent, unregistered online device to offline.
// Devices with a live socket are never flipped regardless of last_seen.
func (m *OfflineMonitor) Sweep(ctx context.Context) {
	minutes := store.SettingInt(ctx, m.store, "offline_threshold_minutes", 10)
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	silent, err := m.store.ListSilentDevices(ctx, cutoff)
	if err != nil {
		m.logger.Error("listing silent devices failed", "error", err)
		return
	}

	for _, d := range silent {
		if m.registry.IsConnected(d.DeviceID) {
			continue
		}

		if err := m.store.SetDeviceStatus(ctx, d.DeviceID, "offline"); err != nil {
			m.logger.Error("marking device offline failed", "device_id", d.DeviceID, "error", err)
			continue
		}
		observability.DevicesMarkedOffline.Inc()
		m.logger.Warn("device marked offline",
			"device_id", d.DeviceID, "hostname", d.Hostname, "last_seen", d.LastSeen)

		env, err := wire.NewEnvelope(wire.TypeDeviceOffline, map[string]string{
			"device_id": d.DeviceID,
			"hostname":  d.Hostname,
		})
		if err == nil {
			m.registry.Broadcast(env)
		}

		m.notifier.DeviceOffline(ctx, d)
	}
}
