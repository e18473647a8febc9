package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}

	if !strings.HasPrefix(string(content), fmt.Sprintf("pid=%d\n", os.Getpid())) {
		t.Errorf("Lock file should start with our PID, got: %q", string(content))
	}
	if !strings.Contains(string(content), "started=") {
		t.Errorf("Lock file should record a start time, got: %q", string(content))
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir)
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Errorf("Expected LockError, got: %T", err)
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "Another GymBuddy instance is already running") {
		t.Errorf("Error message should mention another instance running: %s", errMsg)
	}
	if !strings.Contains(errMsg, tempDir) {
		t.Errorf("Error message should contain the lock path: %s", errMsg)
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(tempDir, LockFileName)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file should exist before release: %s", lockPath)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}

	// Releasing twice is a no-op.
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be safe: %v", err)
	}

	lock2, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestParseLockPID(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"valid pid", "pid=12345\n", 12345},
		{"pid with extra content", "pid=67890\nstarted=2026-01-01T00:00:00Z", 67890},
		{"no pid", "started=2026-01-01T00:00:00Z", 0},
		{"empty content", "", 0},
		{"invalid pid", "pid=abc", 0},
		{"no equals", "pid12345", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseLockPID(tt.content); got != tt.expected {
				t.Errorf("parseLockPID(%q) = %d, want %d", tt.content, got, tt.expected)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}

func TestMissingStateDirectory(t *testing.T) {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("gymbuddy_lock_%d", time.Now().UnixNano()))
	defer os.RemoveAll(dir)

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Should create the directory and acquire the lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("State directory should have been created: %s", dir)
	}
}
