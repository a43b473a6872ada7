package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/observability"
)

const (
	maxAgentConnections     = 2000
	maxDashboardConnections = 200

	wsWriteTimeout = 5 * time.Second
)

// wsConn wraps a websocket connection with serialized writes. Gorilla
// permits only one concurrent writer per connection.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// Hub tracks the live agent socket per device and every open dashboard
// session. At most one agent socket is kept per device; a newer
// registration closes the previous one.
type Hub struct {
	logger hclog.Logger

	agents     map[string]*wsConn // device_id -> conn
	dashboards map[string]*wsConn // session_id -> conn
	mu         sync.RWMutex

	registerAgent       chan agentRegistration
	unregisterAgent     chan agentRegistration
	registerDashboard   chan dashboardRegistration
	unregisterDashboard chan string
}

type agentRegistration struct {
	deviceID string
	conn     *websocket.Conn
}

type dashboardRegistration struct {
	sessionID string
	conn      *websocket.Conn
}

// NewHub creates a connection hub.
func NewHub(logger hclog.Logger) *Hub {
	return &Hub{
		logger:              logger.Named("hub"),
		agents:              make(map[string]*wsConn),
		dashboards:          make(map[string]*wsConn),
		registerAgent:       make(chan agentRegistration),
		unregisterAgent:     make(chan agentRegistration),
		registerDashboard:   make(chan dashboardRegistration),
		unregisterDashboard: make(chan string),
	}
}

// Run processes registrations and keeps dashboard sessions alive. The 30s
// ticker pings dashboards; agents are pinged by their own read loops.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.registerAgent:
			h.addAgent(reg)

		case reg := <-h.unregisterAgent:
			h.removeAgent(reg)

		case reg := <-h.registerDashboard:
			h.addDashboard(reg)

		case sessionID := <-h.unregisterDashboard:
			h.removeDashboard(sessionID)

		case <-ticker.C:
			h.pingDashboards()
		}
	}
}

func (h *Hub) addAgent(reg agentRegistration) {
	h.mu.Lock()
	if len(h.agents) >= maxAgentConnections {
		h.mu.Unlock()
		reg.conn.Close()
		h.logger.Warn("agent connection rejected, hub full",
			"device_id", reg.deviceID, "max", maxAgentConnections)
		return
	}
	old := h.agents[reg.deviceID]
	h.agents[reg.deviceID] = &wsConn{ws: reg.conn}
	total := len(h.agents)
	h.mu.Unlock()

	if old != nil {
		old.ws.Close()
		h.logger.Info("replaced stale agent socket", "device_id", reg.deviceID)
	}
	observability.ConnectedAgents.Set(float64(total))
	h.logger.Info("agent connected", "device_id", reg.deviceID, "total", total)
}

func (h *Hub) removeAgent(reg agentRegistration) {
	h.mu.Lock()
	// Only drop the entry if it still points at the same socket; a
	// replaced connection must not evict its successor.
	if cur, ok := h.agents[reg.deviceID]; ok && cur.ws == reg.conn {
		delete(h.agents, reg.deviceID)
		cur.ws.Close()
	}
	total := len(h.agents)
	h.mu.Unlock()

	observability.ConnectedAgents.Set(float64(total))
	h.logger.Info("agent disconnected", "device_id", reg.deviceID, "total", total)
}

func (h *Hub) addDashboard(reg dashboardRegistration) {
	h.mu.Lock()
	if len(h.dashboards) >= maxDashboardConnections {
		h.mu.Unlock()
		reg.conn.Close()
		h.logger.Warn("dashboard connection rejected, hub full", "max", maxDashboardConnections)
		return
	}
	h.dashboards[reg.sessionID] = &wsConn{ws: reg.conn}
	total := len(h.dashboards)
	h.mu.Unlock()

	observability.ConnectedDashboards.Set(float64(total))
	h.logger.Info("dashboard connected", "session_id", reg.sessionID, "total", total)
}

func (h *Hub) removeDashboard(sessionID string) {
	h.mu.Lock()
	if conn, ok := h.dashboards[sessionID]; ok {
		delete(h.dashboards, sessionID)
		conn.ws.Close()
	}
	total := len(h.dashboards)
	h.mu.Unlock()

	observability.ConnectedDashboards.Set(float64(total))
	h.logger.Info("dashboard disconnected", "session_id", sessionID, "total", total)
}

func (h *Hub) pingDashboards() {
	h.mu.RLock()
	conns := make(map[string]*wsConn, len(h.dashboards))
	for id, conn := range h.dashboards {
		conns[id] = conn
	}
	h.mu.RUnlock()

	for id, conn := range conns {
		if err := conn.ping(); err != nil {
			h.logger.Debug("dashboard ping failed", "session_id", id, "error", err)
			go h.UnregisterDashboard(id)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info("shutting down hub",
		"agents", len(h.agents), "dashboards", len(h.dashboards))

	for _, conn := range h.agents {
		conn.ws.Close()
	}
	for _, conn := range h.dashboards {
		conn.ws.Close()
	}
	h.agents = make(map[string]*wsConn)
	h.dashboards = make(map[string]*wsConn)
	observability.ConnectedAgents.Set(0)
	observability.ConnectedDashboards.Set(0)
}

// RegisterAgent records the live socket for a device.
func (h *Hub) RegisterAgent(deviceID string, conn *websocket.Conn) {
	h.registerAgent <- agentRegistration{deviceID: deviceID, conn: conn}
}

// UnregisterAgent drops the socket if it is still the registered one.
func (h *Hub) UnregisterAgent(deviceID string, conn *websocket.Conn) {
	h.unregisterAgent <- agentRegistration{deviceID: deviceID, conn: conn}
}

// RegisterDashboard records a dashboard session.
func (h *Hub) RegisterDashboard(sessionID string, conn *websocket.Conn) {
	h.registerDashboard <- dashboardRegistration{sessionID: sessionID, conn: conn}
}

// UnregisterDashboard removes a dashboard session.
func (h *Hub) UnregisterDashboard(sessionID string) {
	h.unregisterDashboard <- sessionID
}

// SendToAgent delivers one message to a connected device. Returns false
// when the device has no live socket or the write fails; a failed socket
// is evicted so the device re-registers on reconnect.
func (h *Hub) SendToAgent(deviceID string, v interface{}) bool {
	h.mu.RLock()
	conn, ok := h.agents[deviceID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.writeJSON(v); err != nil {
		h.logger.Warn("agent write failed", "device_id", deviceID, "error", err)
		go h.UnregisterAgent(deviceID, conn.ws)
		return false
	}
	return true
}

// Broadcast sends a message to every dashboard session, best-effort.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.RLock()
	conns := make(map[string]*wsConn, len(h.dashboards))
	for id, conn := range h.dashboards {
		conns[id] = conn
	}
	h.mu.RUnlock()

	for id, conn := range conns {
		if err := conn.writeJSON(v); err != nil {
			h.logger.Debug("dashboard write failed", "session_id", id, "error", err)
			go h.UnregisterDashboard(id)
		}
	}
}

// IsConnected reports whether a device has a live socket.
func (h *Hub) IsConnected(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.agents[deviceID]
	return ok
}

// ConnectedAgentIDs returns the device ids with live sockets.
func (h *Hub) ConnectedAgentIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.agents))
	for id := range h.agents {
		ids = append(ids, id)
	}
	return ids
}

// AgentCount returns the number of connected agents.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// DashboardCount returns the number of connected dashboard sessions.
func (h *Hub) DashboardCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.dashboards)
}
