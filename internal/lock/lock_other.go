//go:build !unix

package lock

import (
	"fmt"
	"os"
	"time"

	werrors "github.com/wardenhq/warden/internal/errors"
)

// acquireSys is the fallback for platforms without advisory flock: an
// atomically-created lock file carrying pid+hostname. Shared locks degrade
// to exclusive here; correctness is preserved at the cost of reader
// concurrency.
func (m *Manager) acquireSys(name, path string, mode LockMode, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)
	retriedStale := false
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			writeOwner(f)
			return &Handle{name: name, mode: mode, file: f, manager: m, refs: 1}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !retriedStale {
			if pid := ownerPID(path); pid > 0 && !pidAlive(pid) {
				removeStale(path)
				retriedStale = true
				continue
			}
			retriedStale = true
		}
		if time.Now().After(deadline) {
			return nil, werrors.ErrLockTimeout(name, timeout.String())
		}
		time.Sleep(pollInterval)
	}
}

func (m *Manager) unlock(h *Handle) error {
	if h.file == nil {
		return nil
	}
	path := h.file.Name()
	closeErr := h.file.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return closeErr
}

// pidAlive reports whether a process with the given pid exists. Without
// signals this is a best-effort check.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc
	return true
}
