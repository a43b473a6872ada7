package main

import (
	"sync"
	"time"

	"github.com/itskum47/PulseForge/wire"
)

// Pacer holds the check-in pacing policy and maps battery state to the
// heartbeat interval. The policy starts at the shipped defaults and is
// replaced by the server at check-in and via update_policy frames.
type Pacer struct {
	mu     sync.RWMutex
	policy wire.Policy
}

func NewPacer() *Pacer {
	return &Pacer{policy: wire.DefaultPolicy()}
}

// Apply merges non-zero fields of update into the policy. Partial
// update_policy frames leave unmentioned keys alone.
func (p *Pacer) Apply(update wire.Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if update.CheckinPluggedSeconds > 0 {
		p.policy.CheckinPluggedSeconds = update.CheckinPluggedSeconds
	}
	if update.CheckinBattery10080Seconds > 0 {
		p.policy.CheckinBattery10080Seconds = update.CheckinBattery10080Seconds
	}
	if update.CheckinBattery7950Seconds > 0 {
		p.policy.CheckinBattery7950Seconds = update.CheckinBattery7950Seconds
	}
	if update.CheckinBattery4920Seconds > 0 {
		p.policy.CheckinBattery4920Seconds = update.CheckinBattery4920Seconds
	}
	if update.CheckinBattery1910Seconds > 0 {
		p.policy.CheckinBattery1910Seconds = update.CheckinBattery1910Seconds
	}
	if update.CheckinBattery90Seconds > 0 {
		p.policy.CheckinBattery90Seconds = update.CheckinBattery90Seconds
	}
	if update.DiskScanIntervalHours > 0 {
		p.policy.DiskScanIntervalHours = update.DiskScanIntervalHours
	}
}

func (p *Pacer) Policy() wire.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// Interval returns the heartbeat interval for the given battery state.
// Charging or unknown battery reads as plugged; otherwise the percentage
// ladder applies. Recomputed before every heartbeat, never interpolated.
func (p *Pacer) Interval(batt BatteryState) time.Duration {
	p.mu.RLock()
	pol := p.policy
	p.mu.RUnlock()

	seconds := pol.CheckinPluggedSeconds
	switch {
	case batt.Charging || batt.Percent == nil:
		// plugged
	case *batt.Percent >= 80:
		seconds = pol.CheckinBattery10080Seconds
	case *batt.Percent >= 50:
		seconds = pol.CheckinBattery7950Seconds
	case *batt.Percent >= 20:
		seconds = pol.CheckinBattery4920Seconds
	case *batt.Percent >= 10:
		seconds = pol.CheckinBattery1910Seconds
	default:
		seconds = pol.CheckinBattery90Seconds
	}
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// DiskScanInterval returns the automatic disk scan cadence.
func (p *Pacer) DiskScanInterval() time.Duration {
	p.mu.RLock()
	hours := p.policy.DiskScanIntervalHours
	p.mu.RUnlock()
	if hours <= 0 {
		hours = 168
	}
	return time.Duration(hours) * time.Hour
}
