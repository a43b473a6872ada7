package main

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// dashboardPongWindow must outlast the hub's 30s ping cadence.
const dashboardPongWindow = 90 * time.Second

// handleDashboardWS upgrades a dashboard subscriber, assigns it a session
// id and registers it for fan-out. Any subscriber is accepted; the hub's
// ticker pings it every 30s and drops it when writes fail.
func (a *API) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("dashboard upgrade failed", "error", err)
		return
	}

	sessionID := uuid.NewString()
	a.hub.RegisterDashboard(sessionID, conn)
	defer a.hub.UnregisterDashboard(sessionID)

	conn.SetReadDeadline(time.Now().Add(dashboardPongWindow))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(dashboardPongWindow))
		return nil
	})

	// Dashboards are write-only from the server's side; the read pump
	// exists to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debug("dashboard read failed", "session_id", sessionID, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(dashboardPongWindow))
	}
}
