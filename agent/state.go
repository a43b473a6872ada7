package main

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// stateBlob is the on-disk shape of state.json.
type stateBlob struct {
	DeviceID    string     `json:"device_id"`
	ActiveIP    string     `json:"active_ip,omitempty"`
	LastIPTest  *time.Time `json:"last_ip_test,omitempty"`
	LastNetwork string     `json:"last_network,omitempty"`
	MACAddress  string     `json:"mac_address,omitempty"`
	WasOffline  bool       `json:"was_offline"`
}

// State is the durable agent identity and connectivity cache. All writes go
// through renameio so a crash never leaves a half-written file.
type State struct {
	path   string
	logger hclog.Logger

	mu   sync.Mutex
	blob stateBlob
}

// LoadState reads state.json, minting a device id and capturing the primary
// MAC on first run. An unreadable blob starts fresh; identity regenerates.
func LoadState(dataDir string, logger hclog.Logger) *State {
	s := &State{
		path:   filepath.Join(dataDir, "state.json"),
		logger: logger.Named("state"),
	}

	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, &s.blob); err != nil {
			s.logger.Warn("state file unreadable; starting fresh", "error", err)
			s.blob = stateBlob{}
		}
	}

	changed := false
	if s.blob.DeviceID == "" {
		s.blob.DeviceID = uuid.NewString()
		changed = true
	}
	if s.blob.MACAddress == "" {
		if mac := primaryMAC(); mac != "" {
			s.blob.MACAddress = mac
			changed = true
		}
	}
	if changed {
		s.save()
	}
	return s
}

// save writes the blob; callers must hold mu (LoadState is the single
// exception, before the State escapes).
func (s *State) save() {
	data, err := json.MarshalIndent(&s.blob, "", "  ")
	if err != nil {
		return
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("state write failed", "error", err)
	}
}

func (s *State) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.DeviceID
}

func (s *State) MAC() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.MACAddress
}

// Endpoint returns the cached endpoint selection.
func (s *State) Endpoint() (ip string, testedAt *time.Time, network string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob.LastIPTest != nil {
		t := *s.blob.LastIPTest
		testedAt = &t
	}
	return s.blob.ActiveIP, testedAt, s.blob.LastNetwork
}

// SetEndpoint records a successful probe.
func (s *State) SetEndpoint(ip, network string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.ActiveIP = ip
	s.blob.LastIPTest = &at
	s.blob.LastNetwork = network
	s.save()
}

// ClearProbe forgets the probe timestamp so the next selection reprobes,
// keeping the cached address as a fallback.
func (s *State) ClearProbe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.LastIPTest = nil
	s.save()
}

// ClearEndpoint drops the cached address entirely (network changed).
func (s *State) ClearEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.ActiveIP = ""
	s.blob.LastIPTest = nil
	s.save()
}

func (s *State) LastNetwork() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.LastNetwork
}

func (s *State) SetLastNetwork(network string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob.LastNetwork = network
	s.save()
}

func (s *State) WasOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob.WasOffline
}

func (s *State) SetWasOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob.WasOffline == v {
		return
	}
	s.blob.WasOffline = v
	s.save()
}

// primaryMAC returns the hardware address of the first up, non-loopback
// interface that has one.
func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			return mac
		}
	}
	return ""
}
