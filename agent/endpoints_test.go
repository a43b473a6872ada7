package main

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

// probeRecorder fakes the TCP probe: addresses listed in up accept, the rest
// refuse, and every attempt is recorded in order.
type probeRecorder struct {
	dialed []string
	up     map[string]bool
}

func (p *probeRecorder) dial(t *testing.T) func(network, addr string, timeout time.Duration) (net.Conn, error) {
	return func(network, addr string, timeout time.Duration) (net.Conn, error) {
		p.dialed = append(p.dialed, addr)
		if !p.up[addr] {
			return nil, errors.New("connection refused")
		}
		c1, c2 := net.Pipe()
		t.Cleanup(func() { c2.Close() })
		return c1, nil
	}
}

func newSelector(t *testing.T, servers []string, rec *probeRecorder) (*Selector, *State) {
	t.Helper()
	cfg := &Config{Servers: servers, Port: 8080, DataDir: t.TempDir()}
	state := LoadState(cfg.DataDir, hclog.NewNullLogger())
	sel := NewSelector(cfg, state, hclog.NewNullLogger())
	sel.dial = rec.dial(t)
	return sel, state
}

func TestSelectPrefersFirstReachable(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{
		"10.0.0.1:8080":          true,
		"pulse.example.com:8080": true,
	}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	if got := sel.Select(true); got != "10.0.0.1" {
		t.Fatalf("Select = %q, want first candidate", got)
	}
	// Probing stops at the first answer.
	if len(rec.dialed) != 1 || rec.dialed[0] != "10.0.0.1:8080" {
		t.Fatalf("dialed = %v, want just 10.0.0.1:8080", rec.dialed)
	}

	ip, testedAt, _ := state.Endpoint()
	if ip != "10.0.0.1" || testedAt == nil {
		t.Fatalf("winner not cached: %q / %v", ip, testedAt)
	}
}

func TestSelectFallsThroughToFallback(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{"pulse.example.com:8080": true}}
	sel, _ := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	if got := sel.Select(true); got != "pulse.example.com" {
		t.Fatalf("Select = %q, want fallback candidate", got)
	}
	want := []string{"10.0.0.1:8080", "pulse.example.com:8080"}
	if len(rec.dialed) != 2 || rec.dialed[0] != want[0] || rec.dialed[1] != want[1] {
		t.Fatalf("dialed = %v, want %v", rec.dialed, want)
	}
}

func TestSelectAllDownFallsBackToCache(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	cachedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	state.SetEndpoint("pulse.example.com", "old|net", cachedAt)

	if got := sel.Select(true); got != "pulse.example.com" {
		t.Fatalf("Select = %q, want cached fallback", got)
	}
	if len(rec.dialed) != 2 {
		t.Fatalf("dialed = %v, want both candidates probed", rec.dialed)
	}
	// The failed pass must not refresh the probe timestamp.
	_, testedAt, _ := state.Endpoint()
	if testedAt == nil || !testedAt.Equal(cachedAt) {
		t.Fatalf("probe timestamp touched on failure: %v", testedAt)
	}
}

func TestSelectAllDownNoCacheUsesFirstCandidate(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	if got := sel.Select(true); got != "10.0.0.1" {
		t.Fatalf("Select = %q, want unverified first candidate", got)
	}
	if ip, _, _ := state.Endpoint(); ip != "" {
		t.Fatalf("unverified candidate was cached: %q", ip)
	}
}

func TestSelectReusesFreshCache(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	state.SetEndpoint("pulse.example.com", networkFingerprint().String(), time.Now().UTC())

	if got := sel.Select(false); got != "pulse.example.com" {
		t.Fatalf("Select = %q, want cached endpoint", got)
	}
	if len(rec.dialed) != 0 {
		t.Fatalf("fresh cache still probed: %v", rec.dialed)
	}
}

func TestSelectReprobesStaleCache(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{"10.0.0.1:8080": true}}
	sel, _ := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	sel.state.SetEndpoint("pulse.example.com", networkFingerprint().String(),
		time.Now().UTC().Add(-8*24*time.Hour))

	if got := sel.Select(false); got != "10.0.0.1" {
		t.Fatalf("Select = %q, want reprobed winner", got)
	}
	if len(rec.dialed) == 0 {
		t.Fatal("stale cache reused without probing")
	}
}

func TestSelectReprobesWhenNetworkMoved(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{"10.0.0.1:8080": true}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	// TEST-NET address: cannot match the real local fingerprint.
	state.SetEndpoint("pulse.example.com", "203.0.113.7|elsewhere", time.Now().UTC())

	if got := sel.Select(false); got != "10.0.0.1" {
		t.Fatalf("Select = %q, want reprobe after network move", got)
	}
	if len(rec.dialed) == 0 {
		t.Fatal("cache reused across a network move")
	}
}

func TestSelectForceIgnoresFreshCache(t *testing.T) {
	rec := &probeRecorder{up: map[string]bool{"10.0.0.1:8080": true}}
	sel, state := newSelector(t, []string{"10.0.0.1", "pulse.example.com"}, rec)

	state.SetEndpoint("pulse.example.com", networkFingerprint().String(), time.Now().UTC())

	if got := sel.Select(true); got != "10.0.0.1" {
		t.Fatalf("Select(force) = %q, want fresh probe result", got)
	}
	if len(rec.dialed) == 0 {
		t.Fatal("forced selection did not probe")
	}
}
