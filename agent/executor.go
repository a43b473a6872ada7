package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

const (
	taskTimeout    = 300 * time.Second
	stdoutTailSize = 64*1024 - 1
	stderrTailSize = 16*1024 - 1
	maxOutputLine  = 1024 * 1024
)

// Sender delivers envelopes to the control plane. Send reports whether the
// frame was accepted for delivery; frames dropped while the channel is down
// are lost, matching the channel's fire-and-forget contract.
type Sender interface {
	Send(env wire.Envelope) bool
}

// Executor runs scripts and streams their output line by line. Each Run owns
// one process; concurrent runs are independent.
type Executor struct {
	sender   Sender
	notifier *Notifier
	logger   hclog.Logger
	timeout  time.Duration
}

func NewExecutor(sender Sender, notifier *Notifier, logger hclog.Logger) *Executor {
	return &Executor{
		sender:   sender,
		notifier: notifier,
		logger:   logger.Named("executor"),
		timeout:  taskTimeout,
	}
}

// Run executes the task to completion and reports the result. It never
// returns an error: failures become exit code -1 with the cause in stderr.
func (e *Executor) Run(ctx context.Context, task wire.RunTask) {
	started := time.Now().UTC()
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stdoutTail, _ := circbuf.NewBuffer(stdoutTailSize)
	stderrTail, _ := circbuf.NewBuffer(stderrTailSize)

	name, args := shellInvocation(task.ScriptType, task.ScriptBody, runtime.GOOS)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	cmd.Stderr = stderrTail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.finish(task, started, -1, stdoutTail.String(), err.Error())
		return
	}
	if err := cmd.Start(); err != nil {
		e.finish(task, started, -1, stdoutTail.String(), err.Error())
		return
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
	for scanner.Scan() {
		line := scanner.Text()
		stdoutTail.Write([]byte(line + "\n"))
		e.stream(task.TaskID, line, 50)
	}

	waitErr := cmd.Wait()

	// Failure notices go through the tail buffer too, so the stderr cap
	// holds even when the process already filled it.
	exitCode := 0
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		exitCode = -1
		fmt.Fprintf(stderrTail, "\n[timeout] task exceeded %s and was killed", e.timeout)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			fmt.Fprintf(stderrTail, "\n%s", waitErr.Error())
		}
	}

	e.finish(task, started, exitCode, stdoutTail.String(), strings.TrimSpace(stderrTail.String()))
}

func (e *Executor) finish(task wire.RunTask, started time.Time, exitCode int, stdout, stderr string) {
	result := wire.TaskResult{
		TaskID:    task.TaskID,
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		StartedAt: started,
	}
	if env, err := wire.NewEnvelope(wire.TypeTaskResult, result); err == nil {
		e.sender.Send(env)
	}
	e.stream(task.TaskID, "", 100)

	name := task.Name
	if name == "" {
		name = task.TaskID
	}
	if exitCode == 0 {
		e.notifier.TaskSucceeded(name)
	} else {
		e.notifier.TaskFailed(name, exitCode, preview(stderr, 80))
	}
	e.logger.Info("task finished",
		"task_id", task.TaskID,
		"name", task.Name,
		"exit_code", exitCode,
		"duration", time.Since(started).Round(time.Millisecond))
}

func (e *Executor) stream(taskID, line string, progress int) {
	env, err := wire.NewEnvelope(wire.TypeTaskOutput, wire.TaskOutput{
		TaskID:   taskID,
		Output:   line,
		Progress: progress,
	})
	if err != nil {
		return
	}
	e.sender.Send(env)
}

// shellInvocation maps a script type onto an argv for the host platform.
// Unrecognized types run as PowerShell, the fleet default.
func shellInvocation(scriptType, body, goos string) (string, []string) {
	switch scriptType {
	case "cmd":
		if goos == "windows" {
			return "cmd", []string{"/c", body}
		}
		return "sh", []string{"-c", body}
	case "python":
		if goos == "windows" {
			return "python", []string{"-c", body}
		}
		return "python3", []string{"-c", body}
	case "bash":
		if goos == "windows" {
			return "wsl", []string{"bash", "-c", body}
		}
		return "bash", []string{"-c", body}
	}
	if goos == "windows" {
		return "powershell", []string{"-NonInteractive", "-NoProfile", "-Command", body}
	}
	return "pwsh", []string{"-NonInteractive", "-NoProfile", "-Command", body}
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
