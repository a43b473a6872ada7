package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

const agentVersion = "2.0.0"

// Compile-time defaults, overridable with
// -ldflags "-X main.defaultServers=10.0.0.5,rmm.example.com".
var (
	defaultServers = "127.0.0.1"
	defaultPort    = "8080"
	defaultToken   = "changeme"
)

// Config holds the agent's identity-independent settings. Identity
// (device_id, mac) lives in the state blob.
type Config struct {
	// Servers are candidate endpoints in probe order: local first, then
	// fallback.
	Servers []string
	Port    int
	Token   string
	DataDir string
}

// LoadConfig resolves compiled defaults against the environment.
func LoadConfig() *Config {
	servers := envOr("PULSE_SERVER_IPS", defaultServers)
	port, err := strconv.Atoi(envOr("PULSE_PORT", defaultPort))
	if err != nil || port <= 0 {
		port = 8080
	}

	var candidates []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		candidates = []string{"127.0.0.1"}
	}

	return &Config{
		Servers: candidates,
		Port:    port,
		Token:   envOr("PULSE_AGENT_TOKEN", defaultToken),
		DataDir: resolveDataDir(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveDataDir returns the per-machine shared data directory, falling back
// to the user cache dir when the machine-wide one is not writable (agent
// running unprivileged).
func resolveDataDir() string {
	var dir string
	if runtime.GOOS == "windows" {
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		dir = filepath.Join(base, "PulseForge")
	} else {
		dir = "/var/lib/pulseforge"
	}
	if os.MkdirAll(dir, 0o755) == nil && dirWritable(dir) {
		return dir
	}

	cache, err := os.UserCacheDir()
	if err != nil {
		return dir
	}
	dir = filepath.Join(cache, "pulseforge")
	os.MkdirAll(dir, 0o755)
	return dir
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}
