package main

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// killProcess terminates the process with the given PID. When a name is
// supplied it must match the running process, so a recycled PID is not
// killed by mistake.
func killProcess(pid int32, name string) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	if name != "" {
		actual, err := p.Name()
		if err != nil {
			return fmt.Errorf("process %d name: %w", pid, err)
		}
		if !strings.EqualFold(actual, name) {
			return fmt.Errorf("process %d is %q, not %q", pid, actual, name)
		}
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// quickAction starts a power-state command and returns without waiting:
// the machine may go down before the command exits.
func quickAction(action string) error {
	name, args, err := quickActionCommand(action, runtime.GOOS)
	if err != nil {
		return err
	}
	return exec.Command(name, args...).Start()
}

func quickActionCommand(action, goos string) (string, []string, error) {
	if goos == "windows" {
		switch action {
		case "shutdown":
			return "shutdown", []string{"/s", "/t", "30"}, nil
		case "restart":
			return "shutdown", []string{"/r", "/t", "30"}, nil
		case "sleep":
			return "rundll32.exe", []string{"powrprof.dll,SetSuspendState", "0,1,0"}, nil
		case "lock":
			return "rundll32.exe", []string{"user32.dll,LockWorkStation"}, nil
		}
		return "", nil, fmt.Errorf("unknown quick action %q", action)
	}
	switch action {
	case "shutdown":
		return "systemctl", []string{"poweroff"}, nil
	case "restart":
		return "systemctl", []string{"reboot"}, nil
	case "sleep":
		return "systemctl", []string{"suspend"}, nil
	case "lock":
		return "loginctl", []string{"lock-session"}, nil
	}
	return "", nil, fmt.Errorf("unknown quick action %q", action)
}
