package main

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/itskum47/PulseForge/wire"
)

// BatteryState is the pacer input: percentage (nil when the host has no
// readable battery) and whether it is on external power.
type BatteryState struct {
	Percent  *float64
	Charging bool
}

func batteryState() BatteryState {
	bats, err := battery.GetAll()
	if err != nil || len(bats) == 0 {
		return BatteryState{}
	}
	b := bats[0]
	if b.Full <= 0 {
		return BatteryState{}
	}
	pct := round1(b.Current / b.Full * 100)
	return BatteryState{
		Percent:  &pct,
		Charging: b.State == battery.Charging || b.State == battery.Full,
	}
}

// Telemetry collects the heartbeat snapshot.
type Telemetry struct {
	mac string
}

func NewTelemetry(state *State) *Telemetry {
	return &Telemetry{mac: state.MAC()}
}

// Battery returns the current battery state for pacing.
func (t *Telemetry) Battery() BatteryState {
	return batteryState()
}

// Snapshot gathers the full heartbeat payload. Individual probe failures
// leave zero values; a heartbeat always goes out.
func (t *Telemetry) Snapshot() wire.Heartbeat {
	hb := wire.Heartbeat{AgentVersion: agentVersion, MAC: t.mac}
	hb.Hostname, _ = os.Hostname()
	hb.IPAddress = primaryIPv4()

	if info, err := host.Info(); err == nil {
		hb.OSInfo = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	} else {
		hb.OSInfo = runtime.GOOS
	}

	bs := batteryState()
	hb.BatteryLevel = bs.Percent
	hb.BatteryCharging = bs.Charging

	if pcts, err := cpu.Percent(300*time.Millisecond, false); err == nil && len(pcts) > 0 {
		hb.CPUPercent = round1(pcts[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hb.RAMPercent = round1(vm.UsedPercent)
	}
	if du, err := disk.Usage(systemRoot()); err == nil {
		hb.DiskPercent = round1(du.UsedPercent)
	}
	return hb
}

func systemRoot() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
