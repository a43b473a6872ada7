package coordination

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
)

const (
	// alertRefireWindow suppresses a rule that fired within the window,
	// regardless of continued violation.
	alertRefireWindow = time.Hour

	// eqTolerance is the slack for operator "eq" on float telemetry.
	eqTolerance = 0.5
)

// AlertEngine evaluates threshold rules against current device telemetry.
type AlertEngine struct {
	store    store.Store
	registry Registry
	notifier Notifier
	logger   hclog.Logger

	interval time.Duration
	warmup   time.Duration
}

func NewAlertEngine(s store.Store, reg Registry, n Notifier, logger hclog.Logger) *AlertEngine {
	return &AlertEngine{
		store:    s,
		registry: reg,
		notifier: n,
		logger:   logger.Named("alert_engine"),
		interval: 120 * time.Second,
		warmup:   90 * time.Second,
	}
}

// Run sweeps every interval after an initial warm-up so freshly-restarted
// servers see real telemetry before judging anyone.
func (e *AlertEngine) Run(ctx context.Context) {
	e.logger.Info("starting alert engine", "interval", e.interval, "warmup", e.warmup)

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.warmup):
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep evaluates every active, unthrottled rule against the connected
// online devices in its scope. The instantaneous value comes from the
// latest device row, not from historical samples.
func (e *AlertEngine) Sweep(ctx context.Context) {
	rules, err := e.store.ListAlertRules(ctx, true)
	if err != nil {
		e.logger.Error("listing alert rules failed", "error", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		e.logger.Error("listing devices failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		if rule.LastFired != nil && now.Sub(*rule.LastFired) < alertRefireWindow {
			continue
		}

		fired := false
		for _, d := range devices {
			if !ruleInScope(rule, d) {
				continue
			}
			if d.Status != "online" || !e.registry.IsConnected(d.DeviceID) {
				continue
			}
			value, ok := metricValue(rule.Metric, d)
			if !ok {
				continue
			}
			if !evaluate(rule.Operator, value, rule.Threshold) {
				continue
			}

			// Commit the throttle before any side effect so a crash
			// mid-sweep cannot re-fire the rule every restart.
			if !fired {
				fired = true
				if err := e.store.TouchAlertRuleFired(ctx, rule.ID, now); err != nil {
					e.logger.Error("updating last_fired failed", "rule", rule.Name, "error", err)
				}
			}
			observability.AlertsFired.WithLabelValues(rule.Metric).Inc()
			e.logger.Warn("alert rule triggered",
				"rule", rule.Name, "device_id", d.DeviceID, "hostname", d.Hostname,
				"metric", rule.Metric, "observed", value, "threshold", rule.Threshold)

			if rule.Action == "email" {
				e.notifier.AlertTriggered(ctx, rule, d, value)
			}

			msg := fmt.Sprintf("alert %q triggered on %s: %s %s %.1f (observed %.1f)",
				rule.Name, d.Hostname, rule.Metric, rule.Operator, rule.Threshold, value)
			if err := e.store.AppendLog(ctx, &store.LogEntry{
				Level:   "warn",
				Source:  "alert_engine",
				Message: msg,
			}); err != nil {
				e.logger.Error("appending alert log failed", "rule", rule.Name, "error", err)
			}
		}
	}
}

func ruleInScope(rule *store.AlertRule, d *store.Device) bool {
	switch rule.TargetType {
	case "device":
		return d.DeviceID == rule.TargetID
	case "group":
		return rule.TargetID != "" && d.GroupName == rule.TargetID
	default:
		return true
	}
}

func metricValue(metric string, d *store.Device) (float64, bool) {
	switch metric {
	case "cpu":
		return d.CPUPercent, true
	case "ram":
		return d.RAMPercent, true
	case "disk":
		return d.DiskPercent, true
	case "battery":
		if d.BatteryLevel == nil {
			return 0, false
		}
		return *d.BatteryLevel, true
	default:
		return 0, false
	}
}

func evaluate(op string, value, threshold float64) bool {
	switch op {
	case "gt":
		return value > threshold
	case "lt":
		return value < threshold
	case "eq":
		return math.Abs(value-threshold) <= eqTolerance
	default:
		return false
	}
}
