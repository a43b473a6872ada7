package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// errAlreadyRunning reports that a live agent already owns the lock.
var errAlreadyRunning = errors.New("another agent instance is running")

// acquireLock takes the single-instance lock under dataDir. A lock left by a
// dead process is stolen; a live owner returns errAlreadyRunning.
func acquireLock(dataDir string) (release func(), err error) {
	path := filepath.Join(dataDir, "agent.lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		if pid, ok := lockOwner(path); ok {
			if alive, _ := process.PidExists(int32(pid)); alive {
				return nil, errAlreadyRunning
			}
		}
		// Lock is stale or unreadable; remove and retry once.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, errAlreadyRunning
}

func lockOwner(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
