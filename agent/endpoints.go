package main

import (
	"context"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	probeTimeout = 3 * time.Second
	probeMaxAge  = 7 * 24 * time.Hour
)

// Selector picks the server endpoint by TCP-probing candidates in order.
// The winner is cached in state together with the probe time and the
// network fingerprint; selection never fails, it degrades to the cached or
// first candidate unverified.
type Selector struct {
	state   *State
	servers []string
	port    int
	logger  hclog.Logger

	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewSelector(cfg *Config, state *State, logger hclog.Logger) *Selector {
	return &Selector{
		state:   state,
		servers: cfg.Servers,
		port:    cfg.Port,
		logger:  logger.Named("endpoints"),
		dial:    net.DialTimeout,
	}
}

// Select returns the endpoint host to use. The cached selection is reused
// unless it is empty, stale (>7 d), the network fingerprint moved, or the
// caller forces a reprobe.
func (s *Selector) Select(force bool) string {
	cached, testedAt, lastNetwork := s.state.Endpoint()
	fp := networkFingerprint().String()

	fresh := testedAt != nil && time.Since(*testedAt) < probeMaxAge
	if !force && cached != "" && fresh && lastNetwork == fp {
		return cached
	}

	for _, candidate := range s.servers {
		addr := net.JoinHostPort(candidate, strconv.Itoa(s.port))
		conn, err := s.dial("tcp", addr, probeTimeout)
		if err != nil {
			s.logger.Debug("endpoint probe failed", "endpoint", addr, "error", err)
			continue
		}
		conn.Close()
		s.state.SetEndpoint(candidate, fp, time.Now().UTC())
		s.logger.Info("endpoint selected", "endpoint", candidate, "network", fp)
		return candidate
	}

	// Nothing answered. Fall back unverified: the probe timestamp stays
	// untouched so the next call probes again.
	if cached != "" {
		s.logger.Warn("no endpoint reachable; using cached", "endpoint", cached)
		return cached
	}
	s.logger.Warn("no endpoint reachable; using first candidate", "endpoint", s.servers[0])
	return s.servers[0]
}

// RunReprobe forces a fresh probe once the cached selection ages out,
// checking in no more often than hourly.
func (s *Selector) RunReprobe(ctx context.Context) {
	for {
		wait := probeMaxAge
		if _, testedAt, _ := s.state.Endpoint(); testedAt != nil {
			remaining := probeMaxAge - time.Since(*testedAt)
			if remaining < time.Hour {
				remaining = time.Hour
			}
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		s.logger.Info("periodic endpoint reprobe")
		s.Select(true)
	}
}

// fingerprint identifies the network the agent currently sits on.
type fingerprint struct {
	LocalIP string
	SSID    string
}

func (f fingerprint) String() string {
	return f.LocalIP + "|" + f.SSID
}

// networkFingerprint samples the primary outbound IPv4 (UDP dial trick, no
// packets sent) and the wireless SSID. Both fields are best-effort.
func networkFingerprint() fingerprint {
	return fingerprint{LocalIP: primaryIPv4(), SSID: currentSSID()}
}

func primaryIPv4() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

func currentSSID() string {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("netsh", "wlan", "show", "interfaces").Output()
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "SSID") {
				if _, v, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(v)
				}
			}
		}
	case "darwin":
		out, err := exec.Command(
			"/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport",
			"-I").Output()
		if err != nil {
			return ""
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "SSID:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
			}
		}
	default:
		out, err := exec.Command("iwgetid", "-r").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	return ""
}
