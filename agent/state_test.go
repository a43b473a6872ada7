package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func TestLoadStateMintsIdentityOnce(t *testing.T) {
	dir := t.TempDir()

	first := LoadState(dir, hclog.NewNullLogger())
	id := first.DeviceID()
	if id == "" {
		t.Fatal("no device id minted on first run")
	}

	second := LoadState(dir, hclog.NewNullLogger())
	if got := second.DeviceID(); got != id {
		t.Fatalf("device id changed across restarts: %q then %q", id, got)
	}
}

func TestLoadStateRecoversFromCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "state.json"), []byte("<<garbage>>"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := LoadState(dir, hclog.NewNullLogger())
	if s.DeviceID() == "" {
		t.Fatal("no fresh identity after unreadable state file")
	}
}

func TestEndpointCacheLifecycle(t *testing.T) {
	s := LoadState(t.TempDir(), hclog.NewNullLogger())

	at := time.Now().UTC().Truncate(time.Second)
	s.SetEndpoint("10.0.0.5", "10.0.0.9|lab-wifi", at)

	ip, testedAt, network := s.Endpoint()
	if ip != "10.0.0.5" || network != "10.0.0.9|lab-wifi" {
		t.Fatalf("Endpoint = %q, %q; want cached values", ip, network)
	}
	if testedAt == nil || !testedAt.Equal(at) {
		t.Fatalf("testedAt = %v, want %v", testedAt, at)
	}

	// ClearProbe keeps the address for fallback but forces a reprobe.
	s.ClearProbe()
	ip, testedAt, _ = s.Endpoint()
	if ip != "10.0.0.5" {
		t.Fatalf("ClearProbe dropped the address: %q", ip)
	}
	if testedAt != nil {
		t.Fatalf("ClearProbe kept the probe timestamp: %v", testedAt)
	}

	// ClearEndpoint forgets the address too.
	s.ClearEndpoint()
	ip, testedAt, _ = s.Endpoint()
	if ip != "" || testedAt != nil {
		t.Fatalf("ClearEndpoint left %q / %v", ip, testedAt)
	}
}

func TestEndpointCachePersists(t *testing.T) {
	dir := t.TempDir()
	at := time.Now().UTC().Truncate(time.Second)

	LoadState(dir, hclog.NewNullLogger()).SetEndpoint("192.168.1.2", "net-a", at)

	ip, testedAt, network := LoadState(dir, hclog.NewNullLogger()).Endpoint()
	if ip != "192.168.1.2" || network != "net-a" || testedAt == nil || !testedAt.Equal(at) {
		t.Fatalf("endpoint cache did not persist: %q %v %q", ip, testedAt, network)
	}
}

func TestWasOfflineSkipsRedundantWrites(t *testing.T) {
	dir := t.TempDir()
	s := LoadState(dir, hclog.NewNullLogger())

	s.SetWasOffline(true)
	if !s.WasOffline() {
		t.Fatal("WasOffline not set")
	}

	path := filepath.Join(dir, "state.json")
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	// Setting the same value again must not rewrite the file.
	s.SetWasOffline(true)
	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Fatal("redundant SetWasOffline rewrote state.json")
	}

	var blob map[string]interface{}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		t.Fatal(err)
	}
	if v, ok := blob["was_offline"].(bool); !ok || !v {
		t.Fatalf("was_offline not persisted: %v", blob["was_offline"])
	}
}
