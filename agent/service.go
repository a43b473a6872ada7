package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
)

const serviceName = "pulseforge-agent"

func serviceConfig(executable string) *service.Config {
	cfg := &service.Config{
		Name:        serviceName,
		DisplayName: "PulseForge Agent",
		Description: "PulseForge remote monitoring and management agent.",
	}
	if executable != "" {
		cfg.Executable = executable
	}
	return cfg
}

// program adapts Agent to the service manager lifecycle. Start must return
// immediately; Stop blocks until the loops drain.
type program struct {
	agent  *Agent
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.agent.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

// installService stages the running binary into the data dir and registers
// it with the host service manager. Staging means the install source (a
// download dir, a USB stick) can disappear afterwards.
func installService(cfg *Config) error {
	staged, err := stageBinary(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("staging binary: %w", err)
	}
	svc, err := service.New(&program{}, serviceConfig(staged))
	if err != nil {
		return err
	}
	if err := svc.Install(); err != nil {
		return fmt.Errorf("registering service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	fmt.Printf("installed and started %s (%s)\n", serviceName, staged)
	return nil
}

func uninstallService() error {
	svc, err := service.New(&program{}, serviceConfig(""))
	if err != nil {
		return err
	}
	// Stop is best effort; the service may not be running.
	svc.Stop()
	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("unregistering service: %w", err)
	}
	fmt.Printf("uninstalled %s\n", serviceName)
	return nil
}

func serviceStatus() error {
	svc, err := service.New(&program{}, serviceConfig(""))
	if err != nil {
		return err
	}
	status, err := svc.Status()
	if err != nil {
		return err
	}
	switch status {
	case service.StatusRunning:
		fmt.Println(serviceName + ": running")
	case service.StatusStopped:
		fmt.Println(serviceName + ": stopped")
	default:
		fmt.Println(serviceName + ": unknown")
	}
	return nil
}

// stageBinary copies the current executable into dataDir and returns the
// staged path. Running from the staged path already is a no-op.
func stageBinary(dataDir string) (string, error) {
	src, err := os.Executable()
	if err != nil {
		return "", err
	}
	name := serviceName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	dst := filepath.Join(dataDir, name)

	if srcInfo, err := os.Stat(src); err == nil {
		if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
			return dst, nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dataDir, ".stage-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}
