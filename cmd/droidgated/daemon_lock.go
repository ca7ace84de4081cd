package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

type daemonLock struct {
	path string
}

// acquireDaemonLock takes the single-instance lock. A lock file whose
// recorded pid no longer names a running process is treated as a leftover
// from a crashed daemon and replaced.
func acquireDaemonLock() (*daemonLock, error) {
	lockPath, err := daemonLockPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory failed: %w", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
			_ = file.Close()
			return &daemonLock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create daemon lock failed: %w", err)
		}
		if attempt == 0 && lockIsStale(lockPath) {
			_ = os.Remove(lockPath)
			continue
		}
		return nil, fmt.Errorf("daemon lock at %s is held by a running droidgated", lockPath)
	}
	return nil, fmt.Errorf("daemon lock at %s could not be acquired", lockPath)
}

func lockIsStale(lockPath string) bool {
	raw, readError := os.ReadFile(lockPath)
	if readError != nil {
		return false
	}
	pid, parseError := strconv.Atoi(strings.TrimSpace(string(raw)))
	if parseError != nil || pid <= 0 {
		return true
	}
	// Signal 0 probes for existence without delivering anything. EPERM
	// means the process exists under another user, so the lock holds.
	return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

func daemonLockPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory failed: %w", err)
	}
	return filepath.Join(homeDir, ".droidgate", "droidgated.lock"), nil
}

func (lock *daemonLock) release() {
	if lock == nil {
		return
	}
	_ = os.Remove(lock.path)
}
