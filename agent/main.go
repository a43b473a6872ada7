// Command agent is the PulseForge endpoint agent: it checks in with the
// control plane, holds a persistent channel for commands, sends telemetry at
// a battery-aware cadence, and runs scheduled tasks even while the server is
// unreachable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/kardianos/service"
)

func main() {
	install := flag.Bool("install", false, "install and start the system service")
	uninstall := flag.Bool("uninstall", false, "stop and remove the system service")
	status := flag.Bool("status", false, "print the service status")
	foreground := flag.Bool("foreground", false, "run in the foreground with debug logging")
	flag.Parse()

	cfg := LoadConfig()

	switch {
	case *install:
		exitOn(installService(cfg))
		return
	case *uninstall:
		exitOn(uninstallService())
		return
	case *status:
		exitOn(serviceStatus())
		return
	}

	logger := newLogger(cfg, *foreground)

	release, err := acquireLock(cfg.DataDir)
	if err != nil {
		if errors.Is(err, errAlreadyRunning) {
			logger.Info("agent already running, exiting")
			return
		}
		logger.Error("instance lock failed", "error", err)
		os.Exit(1)
	}
	defer release()

	agent := buildAgent(cfg, logger)
	logger.Info("agent starting",
		"version", agentVersion,
		"device_id", agent.state.DeviceID(),
		"servers", cfg.Servers,
		"data_dir", cfg.DataDir)

	// service.Run drives the same program whether launched by the service
	// manager or by hand: interactive runs block until SIGINT/SIGTERM.
	svc, err := service.New(&program{agent: agent}, serviceConfig(""))
	if err != nil {
		logger.Error("service init failed", "error", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("agent stopped")
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Agent bundles the long-lived loops behind a single Run.
type Agent struct {
	state    *State
	channel  *Channel
	runner   *Runner
	events   *EventWatcher
	selector *Selector
}

func buildAgent(cfg *Config, logger hclog.Logger) *Agent {
	state := LoadState(cfg.DataDir, logger)
	pacer := NewPacer()
	tasks := NewTaskStore(cfg.DataDir, logger)
	selector := NewSelector(cfg, state, logger)
	telemetry := NewTelemetry(state)
	notifier := NewNotifier(logger)
	checkin := NewCheckinClient(*cfg, state, logger)

	channel := NewChannel(*cfg, state, pacer, tasks, selector, telemetry, checkin, notifier, logger)
	channel.executor = NewExecutor(channel, notifier, logger)

	return &Agent{
		state:    state,
		channel:  channel,
		runner:   NewRunner(tasks, checkin, channel.executor, logger),
		events:   NewEventWatcher(state, tasks, channel.executor, logger),
		selector: selector,
	}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (a *Agent) Run(ctx context.Context) {
	loops := []func(context.Context){
		a.channel.Run,
		a.runner.Run,
		a.events.Run,
		a.selector.RunReprobe,
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}
	wg.Wait()
}
