package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file within the workspace directory.
const LockFileName = "workspace.lock"

// ErrWorkspaceLocked is returned when another live session owns the workspace.
var ErrWorkspaceLocked = errors.New("workspace is locked by another session")

// Lock is an exclusive claim on a workspace directory. Two sessions sharing
// a workspace would collide on worktree paths and the integration branch.
type Lock struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
}

// AcquireLock claims the workspace for sessionID. A lock whose owning
// process is gone is stale and gets replaced. Returns ErrWorkspaceLocked
// when a live process holds the workspace.
func AcquireLock(workspaceDir, sessionID string) (*Lock, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	lockPath := filepath.Join(workspaceDir, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: session %s, pid %d on %s",
				ErrWorkspaceLocked, existing.SessionID, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	// O_EXCL fails if another process recreated the file since the check.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: session %s, pid %d on %s",
					ErrWorkspaceLocked, existing.SessionID, existing.PID, existing.Hostname)
			}
			return nil, ErrWorkspaceLocked
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return lock, nil
}

// Release removes the lock file. Safe to call multiple times, and refuses
// to remove a lock owned by a different process.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}
	existing, err := ReadLock(l.lockFile)
	if err != nil {
		return nil
	}
	if existing.PID != l.PID {
		return nil
	}
	return os.Remove(l.lockFile)
}

// ReadLock parses a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// isProcessAlive sends signal 0, which probes for existence without
// affecting the target.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
