package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

const (
	// pingInterval and pongWait bound silence on the channel: a ping every
	// pingInterval, and pingInterval+pongWait of quiet before the read
	// deadline kills the connection.
	pingInterval = 30 * time.Second
	pongWait     = 15 * time.Second
	readTimeout  = pingInterval + pongWait

	writeTimeout  = 10 * time.Second
	reconnectWait = 30 * time.Second

	// sendQueueDepth buffers outbound frames between producers and the
	// writer goroutine. A full queue drops the frame.
	sendQueueDepth = 64

	// offlineNotifyAfter is how many consecutive failed sessions pass
	// before the user is told the agent is running offline.
	offlineNotifyAfter = 10
)

// Channel maintains the persistent connection to the control plane: check-in,
// dial, heartbeats at the pacing cadence, and the inbound command loop. It
// reconnects forever with a fixed wait.
type Channel struct {
	cfg       Config
	state     *State
	pacer     *Pacer
	tasks     *TaskStore
	selector  *Selector
	telemetry *Telemetry
	checkin   *CheckinClient
	notifier  *Notifier
	logger    hclog.Logger

	// executor is assigned after construction; the executor needs the
	// channel as its Sender.
	executor *Executor

	mu           sync.Mutex
	out          chan wire.Envelope
	lastDiskScan time.Time
}

func NewChannel(cfg Config, state *State, pacer *Pacer, tasks *TaskStore, selector *Selector,
	telemetry *Telemetry, checkin *CheckinClient, notifier *Notifier, logger hclog.Logger) *Channel {
	return &Channel{
		cfg:       cfg,
		state:     state,
		pacer:     pacer,
		tasks:     tasks,
		selector:  selector,
		telemetry: telemetry,
		checkin:   checkin,
		notifier:  notifier,
		logger:    logger.Named("channel"),
	}
}

// Send queues an envelope for the writer goroutine. It reports false when the
// channel is down or the queue is full; callers treat either as a dropped
// frame, never an error.
func (c *Channel) Send(env wire.Envelope) bool {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- env:
		return true
	default:
		c.logger.Warn("send queue full, dropping frame", "type", env.Type)
		return false
	}
}

// Run dials and re-dials the control plane until ctx ends.
func (c *Channel) Run(ctx context.Context) {
	failures := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
		}
		failures++
		if failures == offlineNotifyAfter {
			c.notifier.OfflineMode()
		}

		// A dead connection says nothing about which server is right;
		// only the probe result is stale now.
		c.state.ClearProbe()
		c.state.SetWasOffline(true)

		c.logger.Warn("channel down, reconnecting",
			"error", err, "consecutive_failures", failures, "retry_in", reconnectWait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

// session performs one check-in + connect cycle and blocks until the
// connection dies. The bool reports whether the channel ever came up.
func (c *Channel) session(ctx context.Context) (bool, error) {
	host := c.selector.Select(false)
	hb := c.telemetry.Snapshot()

	var wsURL string
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	resp, err := c.checkin.Do(checkCtx, host, hb)
	cancel()
	if err == nil {
		c.pacer.Apply(resp.Policy)
		c.tasks.ApplySnapshot(resp.ScheduledTasks)
		wsURL = resp.WSURL
	} else {
		// The channel endpoint may still be up even when check-in is
		// not; dial it directly rather than going dark.
		c.logger.Warn("check-in failed, dialing channel directly", "host", host, "error", err)
	}
	if wsURL == "" {
		wsURL = fmt.Sprintf("ws://%s:%d/ws/agent/%s", host, c.cfg.Port, c.state.DeviceID())
	}
	wsURL = strings.TrimRight(wsURL, "/") + "?token=" + url.QueryEscape(c.cfg.Token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, httpResp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if httpResp != nil {
			return false, fmt.Errorf("dial %s: %w (status %s)", host, err, httpResp.Status)
		}
		return false, fmt.Errorf("dial %s: %w", host, err)
	}
	c.logger.Info("channel established", "host", host, "device_id", c.state.DeviceID())

	sctx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	out := make(chan wire.Envelope, sendQueueDepth)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.out = nil
		c.mu.Unlock()
	}()

	if c.state.WasOffline() {
		c.notifier.Reconnected()
		c.state.SetWasOffline(false)
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(sctx, conn, out)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(sctx)
	}()

	err = c.readLoop(sctx, conn)
	cancelSession()
	conn.Close()
	wg.Wait()
	return true, err
}

// writeLoop owns all writes on conn: queued frames and the keepalive ping.
// A write failure closes the connection, which unblocks the read loop.
func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan wire.Envelope) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case env := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Debug("channel write failed", "type", env.Type, "error", err)
				conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// heartbeatLoop sends a telemetry snapshot immediately and then at the
// battery-paced cadence, piggybacking a disk scan when one is due.
func (c *Channel) heartbeatLoop(ctx context.Context) {
	for {
		hb := c.telemetry.Snapshot()
		if env, err := wire.NewEnvelope(wire.TypeHeartbeat, hb); err == nil {
			c.Send(env)
		}
		c.maybeDiskScan()

		batt := BatteryState{Percent: hb.BatteryLevel, Charging: hb.BatteryCharging}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pacer.Interval(batt)):
		}
	}
}

// maybeDiskScan sends a disk scan on the first heartbeat of the process and
// then once per policy interval. The timestamp only advances when the frame
// was actually queued, so a scan dropped while offline retries next beat.
func (c *Channel) maybeDiskScan() {
	c.mu.Lock()
	last := c.lastDiskScan
	c.mu.Unlock()
	if !last.IsZero() && time.Since(last) < c.pacer.DiskScanInterval() {
		return
	}

	scan := collectDiskScan()
	if len(scan.Details) == 0 {
		return
	}
	env, err := wire.NewEnvelope(wire.TypeDiskScan, scan)
	if err != nil || !c.Send(env) {
		return
	}
	c.mu.Lock()
	c.lastDiskScan = time.Now()
	c.mu.Unlock()
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.dispatch(ctx, env)
	}
}

// dispatch routes one inbound frame. Slow work runs in its own goroutine so
// the read loop keeps servicing the socket. Unknown types are logged and
// dropped.
func (c *Channel) dispatch(ctx context.Context, env wire.Envelope) {
	switch env.Type {
	case wire.TypeRunTask:
		var task wire.RunTask
		if err := env.DecodeData(&task); err != nil {
			c.logger.Warn("malformed run_task frame", "error", err)
			return
		}
		c.logger.Info("running dispatched task", "task_id", task.TaskID, "name", task.Name)
		go c.executor.Run(ctx, task)

	case wire.TypeScheduleTask:
		var task wire.Task
		if err := env.DecodeData(&task); err != nil {
			c.logger.Warn("malformed schedule_task frame", "error", err)
			return
		}
		if task.TaskID == "" {
			return
		}
		c.tasks.Upsert(task)
		c.logger.Info("task scheduled locally", "task_id", task.TaskID, "trigger", task.TriggerType)

	case wire.TypeCancelTask:
		var cancel wire.CancelTask
		if err := env.DecodeData(&cancel); err != nil {
			c.logger.Warn("malformed cancel_task frame", "error", err)
			return
		}
		c.tasks.MarkCancelled(cancel.TaskID)

	case wire.TypeUpdatePolicy:
		var policy wire.Policy
		if err := env.DecodeData(&policy); err != nil {
			c.logger.Warn("malformed update_policy frame", "error", err)
			return
		}
		c.pacer.Apply(policy)
		c.logger.Info("pacing policy updated")

	case wire.TypeDiskScanRequest:
		go func() {
			if env, err := wire.NewEnvelope(wire.TypeDiskScan, collectDiskScan()); err == nil {
				c.Send(env)
			}
		}()

	case wire.TypeGetProcesses:
		go c.sendProcessList()

	case wire.TypeKillProcess:
		var kill wire.KillProcess
		if err := env.DecodeData(&kill); err != nil {
			c.logger.Warn("malformed kill_process frame", "error", err)
			return
		}
		go func() {
			if err := killProcess(kill.PID, kill.Name); err != nil {
				c.logger.Warn("kill process failed", "pid", kill.PID, "error", err)
			}
			// The refreshed list is the reply either way; the dashboard
			// sees the process gone, or still there.
			c.sendProcessList()
		}()

	case wire.TypeQuickAction:
		var qa wire.QuickAction
		if err := env.DecodeData(&qa); err != nil {
			c.logger.Warn("malformed quick_action frame", "error", err)
			return
		}
		c.logger.Info("quick action requested", "action", qa.Action)
		if err := quickAction(qa.Action); err != nil {
			c.logger.Error("quick action failed", "action", qa.Action, "error", err)
		}

	case wire.TypeSoftwareScan:
		go func() {
			if env, err := wire.NewEnvelope(wire.TypeSoftwareReport, collectSoftware()); err == nil {
				c.Send(env)
			}
		}()

	case wire.TypeHWScanRequest:
		go func() {
			if env, err := wire.NewEnvelope(wire.TypeHWReport, collectHardware(c.state.MAC())); err == nil {
				c.Send(env)
			}
		}()

	case wire.TypePing:
		// Application-level keepalive, nothing to do.

	default:
		c.logger.Debug("unknown frame dropped", "type", env.Type)
	}
}

func (c *Channel) sendProcessList() {
	if env, err := wire.NewEnvelope(wire.TypeProcessList, collectProcesses()); err == nil {
		c.Send(env)
	}
}
