package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/wire"
)

const (
	// agentIdleTimeout is how long an agent may stay silent before the
	// server probes it with a ping.
	agentIdleTimeout = 120 * time.Second

	// agentPingGrace is how long after a probe the pong may take.
	agentPingGrace = 15 * time.Second

	// closeInvalidToken is sent when the query token does not match.
	closeInvalidToken = 4001
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Agents and dashboards connect from anywhere
		return true
	},
}

// handleAgentWS terminates the agent channel at /ws/agent/{device_id}.
// The shared token arrives as a query parameter; a mismatch closes the
// socket with code 4001 after the upgrade, matching what agents expect.
func (a *API) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimPrefix(r.URL.Path, "/ws/agent/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		http.Error(w, "device_id is required", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("agent upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.agentToken)) != 1 {
		a.logger.Warn("agent rejected, bad token", "device_id", deviceID, "remote", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(closeInvalidToken, "invalid token")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		conn.Close()
		return
	}

	a.hub.RegisterAgent(deviceID, conn)
	defer a.hub.UnregisterAgent(deviceID, conn)

	ctx := r.Context()
	if err := a.store.TouchDevice(ctx, deviceID, time.Now().UTC()); err != nil {
		// First contact before any check-in; the row appears on the
		// first heartbeat.
		a.logger.Debug("touch on connect failed", "device_id", deviceID, "error", err)
	}

	deadline := agentIdleTimeout + agentPingGrace
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})

	// Probe silent agents so half-open connections die at the deadline
	// instead of lingering.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(agentIdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn("agent read failed", "device_id", deviceID, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(deadline))
		a.handleAgentMessage(ctx, deviceID, raw)
	}

	// The socket is gone; the device is offline until it reconnects. If a
	// replacement socket already registered, the next heartbeat flips it
	// straight back.
	bg := context.Background()
	if err := a.store.SetDeviceStatus(bg, deviceID, "offline"); err != nil {
		a.logger.Debug("offline on disconnect failed", "device_id", deviceID, "error", err)
	}
	if device, err := a.store.GetDevice(bg, deviceID); err == nil && device != nil {
		if env, err := wire.NewEnvelope(wire.TypeDeviceUpdate, device); err == nil {
			a.hub.Broadcast(env)
		}
	}
}

// handleAgentMessage demultiplexes one inbound frame. Handler errors are
// logged and swallowed; nothing here may kill the receive loop.
func (a *API) handleAgentMessage(ctx context.Context, deviceID string, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Error("malformed agent frame", "device_id", deviceID, "error", err)
		return
	}
	observability.AgentMessages.WithLabelValues(env.Type, "in").Inc()

	switch env.Type {
	case wire.TypeHeartbeat:
		a.onHeartbeat(ctx, deviceID, env)

	case wire.TypeTaskResult:
		a.onTaskResult(ctx, deviceID, env)

	case wire.TypeTaskOutput, wire.TypeProcessList:
		// Forwarded verbatim, stamped with the sender.
		env.DeviceID = deviceID
		a.hub.Broadcast(env)

	case wire.TypeDiskScan:
		if err := a.store.SetDeviceDetail(ctx, deviceID, store.DetailDisk, env.Data); err != nil {
			a.logger.Error("saving disk scan failed", "device_id", deviceID, "error", err)
		}

	case wire.TypeHWReport:
		if err := a.store.SetDeviceDetail(ctx, deviceID, store.DetailHardware, env.Data); err != nil {
			a.logger.Error("saving hardware report failed", "device_id", deviceID, "error", err)
		}

	case wire.TypeSoftwareReport:
		if err := a.store.SetDeviceDetail(ctx, deviceID, store.DetailSoftware, env.Data); err != nil {
			a.logger.Error("saving software report failed", "device_id", deviceID, "error", err)
		}

	case wire.TypeLog:
		var lm wire.LogMessage
		if err := env.DecodeData(&lm); err != nil {
			a.logger.Error("malformed log frame", "device_id", deviceID, "error", err)
			return
		}
		if err := a.store.AppendLog(ctx, &store.LogEntry{
			Level:   lm.Level,
			Source:  "agent:" + deviceID,
			Message: lm.Message,
		}); err != nil {
			a.logger.Error("appending agent log failed", "device_id", deviceID, "error", err)
		}

	case wire.TypePing:
		// Application-level keepalive, nothing to do.

	default:
		a.logger.Warn("unknown agent frame dropped", "device_id", deviceID, "type", env.Type)
	}
}

func (a *API) onHeartbeat(ctx context.Context, deviceID string, env wire.Envelope) {
	var hb wire.Heartbeat
	if err := env.DecodeData(&hb); err != nil {
		a.logger.Error("malformed heartbeat", "device_id", deviceID, "error", err)
		return
	}
	observability.HeartbeatsTotal.Inc()

	now := time.Now().UTC()
	tel := store.Telemetry{
		CPUPercent:      hb.CPUPercent,
		RAMPercent:      hb.RAMPercent,
		DiskPercent:     hb.DiskPercent,
		BatteryLevel:    hb.BatteryLevel,
		BatteryCharging: hb.BatteryCharging,
		IPAddress:       hb.IPAddress,
		MACAddress:      hb.MAC,
	}
	if err := a.store.UpdateDeviceTelemetry(ctx, deviceID, tel, now); err != nil {
		// Heartbeat before any check-in: create the row instead.
		if err := a.store.UpsertDevice(ctx, &store.Device{
			DeviceID:        deviceID,
			Hostname:        hb.Hostname,
			OSInfo:          hb.OSInfo,
			IPAddress:       hb.IPAddress,
			MACAddress:      hb.MAC,
			AgentVersion:    hb.AgentVersion,
			Status:          "online",
			LastSeen:        now,
			CPUPercent:      hb.CPUPercent,
			RAMPercent:      hb.RAMPercent,
			DiskPercent:     hb.DiskPercent,
			BatteryLevel:    hb.BatteryLevel,
			BatteryCharging: hb.BatteryCharging,
		}); err != nil {
			a.logger.Error("heartbeat upsert failed", "device_id", deviceID, "error", err)
			return
		}
	}

	if err := a.store.InsertMetricSample(ctx, &store.MetricSample{
		DeviceID:   deviceID,
		RecordedAt: now,
		CPU:        hb.CPUPercent,
		RAM:        hb.RAMPercent,
		Disk:       hb.DiskPercent,
		Battery:    hb.BatteryLevel,
	}); err != nil {
		a.logger.Error("inserting metric sample failed", "device_id", deviceID, "error", err)
	}

	device, err := a.store.GetDevice(ctx, deviceID)
	if err != nil || device == nil {
		return
	}
	if env, err := wire.NewEnvelope(wire.TypeDeviceUpdate, device); err == nil {
		a.hub.Broadcast(env)
	}
}

func (a *API) onTaskResult(ctx context.Context, deviceID string, env wire.Envelope) {
	var res wire.TaskResult
	if err := env.DecodeData(&res); err != nil {
		a.logger.Error("malformed task result", "device_id", deviceID, "error", err)
		return
	}

	status := "success"
	if res.ExitCode != 0 {
		status = "failed"
	}
	observability.TaskResultsTotal.WithLabelValues(status).Inc()

	record := &store.TaskResult{
		ResultID:    uuid.NewString(),
		TaskID:      res.TaskID,
		DeviceID:    deviceID,
		ExitCode:    res.ExitCode,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		Status:      status,
		StartedAt:   res.StartedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err := a.store.SaveTaskResult(ctx, record); err != nil {
		a.logger.Error("saving task result failed",
			"device_id", deviceID, "task_id", res.TaskID, "error", err)
	}

	taskName := res.TaskID
	if task, err := a.store.GetTask(ctx, res.TaskID); err == nil && task != nil {
		taskName = task.Name
		if task.Status == "dispatched" {
			if err := a.store.MarkTaskDone(ctx, res.TaskID); err != nil {
				a.logger.Error("marking task done failed", "task_id", res.TaskID, "error", err)
			}
		}
	}

	a.logger.Info("task result received",
		"device_id", deviceID, "task_id", res.TaskID, "exit_code", res.ExitCode, "status", status)

	if res.ExitCode != 0 {
		hostname := deviceID
		if device, err := a.store.GetDevice(ctx, deviceID); err == nil && device != nil {
			hostname = device.Hostname
		}
		a.notifier.TaskFailed(ctx, record, taskName, hostname)
	}

	env.DeviceID = deviceID
	a.hub.Broadcast(env)
}
