package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"grimm.is/aclsync/internal/logging"
)

// setupPIDFile writes our PID to path and keeps it there until ctx is
// done. It refuses to start when the file names another live process.
func setupPIDFile(ctx context.Context, path string) (cleanup func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if pid, err := readPIDFile(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return nil, fmt.Errorf("already running as process %d (PID file %s)", pid, path)
	}

	self := fmt.Sprintf("%d", os.Getpid())
	writePID := func() error {
		return os.WriteFile(path, []byte(self), 0644)
	}
	if err := writePID(); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}

	// Watchdog
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := os.ReadFile(path)
				if err != nil || strings.TrimSpace(string(data)) != self {
					if err := writePID(); err != nil {
						logging.Error("Failed to restore PID file", "error", err)
					} else {
						logging.Info("Restoring PID file (detected missing or invalid)")
					}
				}
			}
		}
	}()

	cleanup = func() {
		if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == self {
			os.Remove(path)
		}
	}
	return cleanup, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
