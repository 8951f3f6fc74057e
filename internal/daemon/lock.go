// file: internal/daemon/lock.go
// version: 1.0.0
// guid: 697a1867-29ef-4123-9003-ed96f08f1ce5

// Package daemon guards the state directory so only one processor runs
// against it at a time.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the state directory.
const LockFileName = "video-autoprocessor.lock"

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another video-autoprocessor instance is running")

// InstanceLock is an advisory lock on the state directory.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// NewInstanceLock prepares a lock inside stateDir.
func NewInstanceLock(stateDir string) *InstanceLock {
	path := filepath.Join(stateDir, LockFileName)
	return &InstanceLock{path: path, lock: flock.New(path)}
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.path }

// Acquire takes the lock without blocking and records the pid.
func (l *InstanceLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if pid := l.holderPID(); pid > 0 {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}
	// the flock handle owns the file; write the pid through a second handle
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = l.lock.Unlock()
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

// Release drops the lock. It is safe to call when not held.
func (l *InstanceLock) Release() error {
	if !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Held reports whether this process holds the lock.
func (l *InstanceLock) Held() bool { return l.lock.Locked() }

func (l *InstanceLock) holderPID() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
