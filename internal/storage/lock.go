package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the run lock inside the state directory.
const LockFileName = "run.lock"

// ErrLocked is returned when another live process holds the run lock.
var ErrLocked = errors.New("another digin run holds the lock")

// RunLock is the lock file content. It keeps two digin processes from
// writing digests into the same tree at once.
type RunLock struct {
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// AcquireRunLock creates <root>/.digin/run.lock. A lock left behind by a
// dead process on this host is taken over. It returns the lock path for
// ReleaseRunLock.
func AcquireRunLock(root, command, version string) (string, error) {
	dir := StateDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	lockPath := filepath.Join(dir, LockFileName)

	if existing, err := ReadRunLock(lockPath); err == nil {
		if isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w: %s (PID %d on %s, started %s)", ErrLocked,
				existing.Command, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		// stale, overwrite
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := RunLock{
		Command:   command,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to create run lock: %w", err)
	}
	return lockPath, nil
}

// ReadRunLock loads a lock file.
func ReadRunLock(lockPath string) (*RunLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock RunLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("corrupt run lock %s: %w", lockPath, err)
	}
	return &lock, nil
}

// ReleaseRunLock removes the lock file. An empty path is a no-op.
func ReleaseRunLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run lock: %w", err)
	}
	return nil
}

// isProcessAlive reports whether pid exists on hostname. Remote hosts and
// unverifiable processes count as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
