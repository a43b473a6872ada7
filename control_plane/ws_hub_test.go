package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

// socketPair returns both ends of a live websocket connection backed by an
// httptest server.
func socketPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of socket pair never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(hclog.NewNullLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// waitFor polls until cond holds. Registrations are applied by the hub's own
// goroutine, so tests observe them asynchronously.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	return env
}

func TestHubSendToAgent(t *testing.T) {
	hub := startHub(t)
	server, client := socketPair(t)

	hub.RegisterAgent("dev-1", server)
	waitFor(t, "agent registration", func() bool { return hub.IsConnected("dev-1") })

	if got := hub.AgentCount(); got != 1 {
		t.Fatalf("AgentCount = %d, want 1", got)
	}

	env, err := wire.NewEnvelope(wire.TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if !hub.SendToAgent("dev-1", env) {
		t.Fatal("SendToAgent returned false for a connected device")
	}

	got := readEnvelope(t, client)
	if got.Type != wire.TypePing {
		t.Fatalf("agent received type %q, want %q", got.Type, wire.TypePing)
	}
}

func TestHubSendToUnknownAgent(t *testing.T) {
	hub := startHub(t)

	env, err := wire.NewEnvelope(wire.TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if hub.SendToAgent("nobody", env) {
		t.Fatal("SendToAgent returned true for an unknown device")
	}
}

func TestHubReplacementClosesOldSocket(t *testing.T) {
	hub := startHub(t)
	server1, client1 := socketPair(t)
	server2, client2 := socketPair(t)

	hub.RegisterAgent("dev-1", server1)
	waitFor(t, "first registration", func() bool { return hub.IsConnected("dev-1") })

	hub.RegisterAgent("dev-1", server2)

	// The hub closes the replaced socket after swapping the map entry, so
	// a failed read on the old peer proves the swap is complete.
	client1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client1.ReadMessage(); err == nil {
		t.Fatal("read on replaced socket succeeded, want close")
	}

	if got := hub.AgentCount(); got != 1 {
		t.Fatalf("AgentCount after replacement = %d, want 1", got)
	}

	env, err := wire.NewEnvelope(wire.TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if !hub.SendToAgent("dev-1", env) {
		t.Fatal("SendToAgent through the replacement socket failed")
	}
	if got := readEnvelope(t, client2); got.Type != wire.TypePing {
		t.Fatalf("new socket received type %q, want %q", got.Type, wire.TypePing)
	}
}

func TestHubStaleUnregisterKeepsSuccessor(t *testing.T) {
	hub := startHub(t)
	server1, client1 := socketPair(t)
	server2, client2 := socketPair(t)

	hub.RegisterAgent("dev-1", server1)
	waitFor(t, "first registration", func() bool { return hub.IsConnected("dev-1") })
	hub.RegisterAgent("dev-1", server2)
	client1.SetReadDeadline(time.Now().Add(2 * time.Second))
	client1.ReadMessage() // wait out the replacement close

	// The replaced connection's read loop reports its own death; the
	// successor must survive it.
	hub.UnregisterAgent("dev-1", server1)

	// The hub applies queued operations in order, so once this later
	// registration is visible the stale unregister has been processed.
	marker, _ := socketPair(t)
	hub.RegisterAgent("dev-2", marker)
	waitFor(t, "marker registration", func() bool { return hub.IsConnected("dev-2") })

	if !hub.IsConnected("dev-1") {
		t.Fatal("stale unregister evicted the successor")
	}
	env, err := wire.NewEnvelope(wire.TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if !hub.SendToAgent("dev-1", env) {
		t.Fatal("SendToAgent failed after stale unregister")
	}
	if got := readEnvelope(t, client2); got.Type != wire.TypePing {
		t.Fatalf("successor received type %q, want %q", got.Type, wire.TypePing)
	}
}

func TestHubBroadcastReachesEveryDashboard(t *testing.T) {
	hub := startHub(t)
	serverA, clientA := socketPair(t)
	serverB, clientB := socketPair(t)

	hub.RegisterDashboard("sess-a", serverA)
	hub.RegisterDashboard("sess-b", serverB)
	waitFor(t, "dashboard registrations", func() bool { return hub.DashboardCount() == 2 })

	env, err := wire.NewEnvelope(wire.TypeDeviceUpdate, map[string]string{"device_id": "dev-1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	hub.Broadcast(env)

	for name, conn := range map[string]*websocket.Conn{"a": clientA, "b": clientB} {
		got := readEnvelope(t, conn)
		if got.Type != wire.TypeDeviceUpdate {
			t.Fatalf("dashboard %s received type %q, want %q", name, got.Type, wire.TypeDeviceUpdate)
		}
	}
}

func TestHubUnregisterDashboard(t *testing.T) {
	hub := startHub(t)
	server, _ := socketPair(t)

	hub.RegisterDashboard("sess-a", server)
	waitFor(t, "dashboard registration", func() bool { return hub.DashboardCount() == 1 })

	hub.UnregisterDashboard("sess-a")
	waitFor(t, "dashboard removal", func() bool { return hub.DashboardCount() == 0 })
}
