package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is an advisory single-writer lock backed by a pid file. It guards the
// status store against a second orchestrator instance; a lock left behind by
// a crashed process is detected by a liveness check and taken over.
type Lock struct {
	path string
}

// AcquireLock takes the lock at path, stealing it from a dead holder.
// It fails if another live process holds the lock.
func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("close lock file: %w", cerr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // holder released between our attempts
			}
			return nil, fmt.Errorf("read lock file: %w", readErr)
		}

		pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
		if pid > 0 && pidAlive(pid) {
			return nil, fmt.Errorf("status store is locked by running process %d", pid)
		}

		// Stale lock from a dead process: remove it and retry once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale lock: %w", rmErr)
		}
	}
	return nil, fmt.Errorf("could not acquire lock at %s", path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// pidAlive reports whether a process with the given pid exists. EPERM means
// the process exists but belongs to another user.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
