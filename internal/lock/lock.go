// Package lock enforces one gateway process per base directory with a
// PID file. A stale file left by a dead process is reclaimed.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld means another live process owns the lock.
var ErrHeld = errors.New("lock held by another process")

// Lock is an acquired PID file.
type Lock struct {
	path string
}

// Acquire writes <baseDir>/overseer.pid. Returns ErrHeld (wrapped with
// the owner PID) when a live process already holds it.
func Acquire(baseDir string) (*Lock, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(baseDir, "overseer.pid")

	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrHeld)
		}
		// Stale or garbage file, reclaim it.
		os.Remove(path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrHeld
		}
		return nil, err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release removes the PID file. Safe to call twice.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAlive probes the PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
