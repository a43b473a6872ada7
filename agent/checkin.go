package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

// CheckinClient speaks the agent's two HTTP endpoints: the check-in POST and
// the pre-run cancellation probe.
type CheckinClient struct {
	cfg    Config
	state  *State
	client *http.Client
	logger hclog.Logger
}

func NewCheckinClient(cfg Config, state *State, logger hclog.Logger) *CheckinClient {
	return &CheckinClient{
		cfg:    cfg,
		state:  state,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("checkin"),
	}
}

// Do posts a check-in to host and returns the channel URL, pacing policy and
// scheduled-task snapshot.
func (c *CheckinClient) Do(ctx context.Context, host string, hb wire.Heartbeat) (*wire.CheckinResponse, error) {
	payload := wire.CheckinRequest{
		DeviceID:  c.state.DeviceID(),
		Platform:  runtime.GOOS,
		Heartbeat: hb,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/api/agent/checkin", host, c.cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Token", c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checkin %s: %s", host, resp.Status)
	}

	var out wire.CheckinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("checkin %s: decode: %w", host, err)
	}
	return &out, nil
}

// TaskActive asks the control plane whether a scheduled task is still
// runnable before a local trigger fires it. Any transport or decode failure
// reports true: an unreachable server must not stop offline schedules.
func (c *CheckinClient) TaskActive(ctx context.Context, taskID string) bool {
	host, _, _ := c.state.Endpoint()
	if host == "" {
		if len(c.cfg.Servers) == 0 {
			return true
		}
		host = c.cfg.Servers[0]
	}

	url := fmt.Sprintf("http://%s:%d/api/agent/tasks/%s", host, c.cfg.Port, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return true
	}
	req.Header.Set("X-Agent-Token", c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("task probe unreachable, assuming active", "task_id", taskID, "error", err)
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return true
	}

	var probe wire.TaskProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		return true
	}
	return !probe.Cancelled
}
