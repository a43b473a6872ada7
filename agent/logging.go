package main

import (
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the root logger. Foreground runs log to stderr at debug;
// background runs rotate agent.log in the data dir (5 MiB, 3 backups).
func newLogger(cfg *Config, foreground bool) hclog.Logger {
	if foreground {
		return hclog.New(&hclog.LoggerOptions{
			Name:  "agent",
			Level: hclog.Debug,
		})
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "agent",
		Level: hclog.Info,
		Output: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.DataDir, "agent.log"),
			MaxSize:    5, // MiB
			MaxBackups: 3,
		},
	})
}
