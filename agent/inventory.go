package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/itskum47/PulseForge/wire"
)

const collectorTimeout = 60 * time.Second

// collectDiskScan reports per-partition usage.
func collectDiskScan() wire.DiskScan {
	var scan wire.DiskScan
	parts, err := disk.Partitions(false)
	if err != nil {
		return scan
	}
	for _, part := range parts {
		usage, err := disk.Usage(part.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		scan.Details = append(scan.Details, wire.DiskDetail{
			Mount:       part.Mountpoint,
			TotalGB:     round1(float64(usage.Total) / 1e9),
			UsedGB:      round1(float64(usage.Used) / 1e9),
			FreeGB:      round1(float64(usage.Free) / 1e9),
			UsedPercent: round1(usage.UsedPercent),
		})
	}
	return scan
}

// collectProcesses lists the top 50 processes by resident memory.
func collectProcesses() []wire.ProcessInfo {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	out := make([]wire.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue
		}
		info := wire.ProcessInfo{PID: p.Pid, Name: name}
		if c, err := p.CPUPercent(); err == nil {
			info.CPU = round1(c)
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			info.MemMB = round1(float64(mi.RSS) / 1048576)
		}
		if exe, err := p.Exe(); err == nil {
			info.Path = exe
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemMB > out[j].MemMB })
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

// hwReport is the hw_report payload. GPU is best-effort and platform bound;
// everything else comes from gopsutil.
type hwReport struct {
	CPU struct {
		Name    string  `json:"name"`
		Cores   int     `json:"cores"`
		Threads int     `json:"threads"`
		MHz     float64 `json:"mhz"`
	} `json:"cpu"`
	RAMGB float64  `json:"ram_gb"`
	Disks []hwDisk `json:"disks"`
	GPU   string   `json:"gpu,omitempty"`
	MAC   string   `json:"mac,omitempty"`
}

type hwDisk struct {
	Device  string  `json:"device"`
	FSType  string  `json:"fstype"`
	TotalGB float64 `json:"total_gb"`
}

func collectHardware(mac string) hwReport {
	var hw hwReport
	hw.MAC = mac

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		hw.CPU.Name = strings.TrimSpace(infos[0].ModelName)
		hw.CPU.MHz = infos[0].Mhz
	}
	if physical, err := cpu.Counts(false); err == nil {
		hw.CPU.Cores = physical
	}
	if logical, err := cpu.Counts(true); err == nil {
		hw.CPU.Threads = logical
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hw.RAMGB = round1(float64(vm.Total) / 1073741824)
	}
	if parts, err := disk.Partitions(false); err == nil {
		for _, part := range parts {
			usage, err := disk.Usage(part.Mountpoint)
			if err != nil || usage.Total == 0 {
				continue
			}
			hw.Disks = append(hw.Disks, hwDisk{
				Device:  part.Device,
				FSType:  part.Fstype,
				TotalGB: round1(float64(usage.Total) / 1e9),
			})
		}
	}
	hw.GPU = gpuName()
	return hw
}

func gpuName() string {
	switch runtime.GOOS {
	case "windows":
		out, err := command("powershell", "-NonInteractive", "-NoProfile", "-Command",
			"(Get-CimInstance Win32_VideoController).Name")
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		out, err := command("sh", "-c", "lspci | grep -i 'vga\\|3d' | head -1")
		if err != nil {
			return ""
		}
		line := strings.TrimSpace(string(out))
		if _, after, ok := strings.Cut(line, ": "); ok {
			return after
		}
		return line
	}
	return ""
}

// collectSoftware inventories installed applications: the uninstall registry
// on Windows, dpkg on Debian-family Linux. Other platforms report empty.
func collectSoftware() wire.SoftwareReport {
	switch runtime.GOOS {
	case "windows":
		return windowsSoftware()
	case "linux":
		return dpkgSoftware()
	}
	return wire.SoftwareReport{}
}

func windowsSoftware() wire.SoftwareReport {
	out, err := command("powershell", "-NonInteractive", "-NoProfile", "-Command",
		`Get-ItemProperty HKLM:\Software\Microsoft\Windows\CurrentVersion\Uninstall\*,`+
			`HKLM:\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall\* `+
			`| Select-Object DisplayName,DisplayVersion,Publisher,InstallDate `+
			`| Where-Object {$_.DisplayName} | ConvertTo-Json -Depth 2`)
	if err != nil {
		return wire.SoftwareReport{}
	}

	type psApp struct {
		DisplayName    string `json:"DisplayName"`
		DisplayVersion string `json:"DisplayVersion"`
		Publisher      string `json:"Publisher"`
		InstallDate    string `json:"InstallDate"`
	}
	items, err := decodeObjectOrArray[psApp](out)
	if err != nil {
		return wire.SoftwareReport{}
	}

	var report wire.SoftwareReport
	for _, item := range items {
		name := strings.TrimSpace(item.DisplayName)
		if name == "" {
			continue
		}
		report.Apps = append(report.Apps, wire.SoftwareApp{
			Name:        name,
			Version:     strings.TrimSpace(item.DisplayVersion),
			Publisher:   strings.TrimSpace(item.Publisher),
			InstallDate: strings.TrimSpace(item.InstallDate),
		})
	}
	return report
}

func dpkgSoftware() wire.SoftwareReport {
	out, err := command("dpkg-query", "-W", "-f", "${Package}\t${Version}\n")
	if err != nil {
		return wire.SoftwareReport{}
	}

	var report wire.SoftwareReport
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, version, ok := strings.Cut(scanner.Text(), "\t")
		if !ok || name == "" {
			continue
		}
		report.Apps = append(report.Apps, wire.SoftwareApp{Name: name, Version: version})
	}
	return report
}

// decodeObjectOrArray handles ConvertTo-Json emitting a bare object for a
// single result and an array otherwise.
func decodeObjectOrArray[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []T
		err := json.Unmarshal(trimmed, &items)
		return items, err
	}
	var item T
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, err
	}
	return []T{item}, nil
}

func command(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), collectorTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}
