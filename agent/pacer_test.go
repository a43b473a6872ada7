package main

import (
	"testing"
	"time"

	"github.com/itskum47/PulseForge/wire"
)

func pct(v float64) *float64 { return &v }

func TestIntervalLadder(t *testing.T) {
	p := NewPacer()

	cases := []struct {
		name string
		batt BatteryState
		want time.Duration
	}{
		{"charging counts as plugged", BatteryState{Percent: pct(45), Charging: true}, 30 * time.Second},
		{"no battery reading counts as plugged", BatteryState{}, 30 * time.Second},
		{"full battery", BatteryState{Percent: pct(100)}, 60 * time.Second},
		{"80 is top rung", BatteryState{Percent: pct(80)}, 60 * time.Second},
		{"just under 80", BatteryState{Percent: pct(79.9)}, 180 * time.Second},
		{"50 boundary", BatteryState{Percent: pct(50)}, 180 * time.Second},
		{"just under 50", BatteryState{Percent: pct(49.9)}, 300 * time.Second},
		{"20 boundary", BatteryState{Percent: pct(20)}, 300 * time.Second},
		{"just under 20", BatteryState{Percent: pct(19.9)}, 600 * time.Second},
		{"10 boundary", BatteryState{Percent: pct(10)}, 600 * time.Second},
		{"critical battery", BatteryState{Percent: pct(9.9)}, 900 * time.Second},
		{"empty battery", BatteryState{Percent: pct(0)}, 900 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Interval(tc.batt); got != tc.want {
				t.Fatalf("Interval(%+v) = %v, want %v", tc.batt, got, tc.want)
			}
		})
	}
}

func TestApplyMergesOnlyPositiveFields(t *testing.T) {
	p := NewPacer()
	p.Apply(wire.Policy{
		CheckinPluggedSeconds:   45,
		CheckinBattery90Seconds: 600,
	})

	pol := p.Policy()
	if pol.CheckinPluggedSeconds != 45 {
		t.Fatalf("plugged seconds = %d, want 45", pol.CheckinPluggedSeconds)
	}
	if pol.CheckinBattery90Seconds != 600 {
		t.Fatalf("low battery seconds = %d, want 600", pol.CheckinBattery90Seconds)
	}
	// Unmentioned keys keep their previous values.
	if pol.CheckinBattery7950Seconds != 180 {
		t.Fatalf("mid battery seconds = %d, want untouched 180", pol.CheckinBattery7950Seconds)
	}
	if pol.DiskScanIntervalHours != 168 {
		t.Fatalf("disk scan hours = %d, want untouched 168", pol.DiskScanIntervalHours)
	}

	// An all-zero update is a no-op.
	p.Apply(wire.Policy{})
	if got := p.Policy(); got != pol {
		t.Fatalf("policy changed after empty update: %+v", got)
	}
}

func TestIntervalFloorsUnsetPolicy(t *testing.T) {
	p := &Pacer{}
	if got := p.Interval(BatteryState{Percent: pct(55)}); got != 30*time.Second {
		t.Fatalf("Interval with zero policy = %v, want 30s floor", got)
	}
}

func TestDiskScanInterval(t *testing.T) {
	p := NewPacer()
	if got := p.DiskScanInterval(); got != 168*time.Hour {
		t.Fatalf("default disk scan interval = %v, want 168h", got)
	}

	p.Apply(wire.Policy{DiskScanIntervalHours: 24})
	if got := p.DiskScanInterval(); got != 24*time.Hour {
		t.Fatalf("disk scan interval after update = %v, want 24h", got)
	}

	bare := &Pacer{}
	if got := bare.DiskScanInterval(); got != 168*time.Hour {
		t.Fatalf("disk scan interval with zero policy = %v, want 168h fallback", got)
	}
}
