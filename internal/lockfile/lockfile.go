// Package lockfile guards the state directory against concurrent GymBuddy
// instances. It uses a flock held on a lock file so the lock is dropped by
// the kernel even when the process dies without cleaning up.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "gymbuddy.lock"

// Lock represents an acquired state directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock takes an exclusive non-blocking lock on the state directory.
// If another process already holds the lock, the returned error is a
// *LockError describing the holder.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	slog.Debug("Lockfile.AcquireLock attempting", "lockPath", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()

		holder := describeHolder(lockPath)
		slog.Error("Lockfile.AcquireLock failed, another instance holds the lock",
			"error", err, "lockPath", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, HolderInfo: holder, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock info to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile.AcquireLock could not sync lock file", "error", err, "lockPath", lockPath)
	}

	slog.Info("Lockfile.AcquireLock succeeded", "lockPath", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

// Release drops the flock and removes the lock file. Safe to call more than
// once.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile.Release failed to drop flock", "error", err, "lockPath", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile.Release failed to close lock file", "error", err, "lockPath", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		slog.Error("Lockfile.Release failed to remove lock file", "error", err, "lockPath", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("Lockfile.Release succeeded", "lockPath", l.path)
	return nil
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath   string
	HolderInfo string
	Cause      error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another GymBuddy instance is already running against the same state directory.\n\nLock file: %s", e.LockPath)
	if e.HolderInfo != "" {
		msg += fmt.Sprintf("\nHeld by: %s", e.HolderInfo)
	}
	msg += "\n\nIf no other GymBuddy instance is running the lock file may be stale and can be removed:\n" +
		fmt.Sprintf("  rm %s\n", e.LockPath) +
		"\nOnly do this when you are certain no other instance is using the state directory."
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder reads an existing lock file and reports who holds it.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file"
	}
	content := string(data)
	if content == "" {
		return "lock file exists but carries no process information"
	}

	if pid := parseLockPID(content); pid > 0 {
		if processAlive(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running, stale lock)", pid)
	}
	return strings.TrimSpace(content)
}

// parseLockPID extracts a pid=NNNN value from lock file content.
func parseLockPID(content string) int {
	const prefix = "pid="
	idx := strings.Index(content, prefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(prefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

// processAlive checks for a live process by sending signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
