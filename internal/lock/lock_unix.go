//go:build unix

package lock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	werrors "github.com/wardenhq/warden/internal/errors"
)

// acquireSys obtains a flock(2) on the lock file, polling until timeout.
// The descriptor is opened close-on-exec so gate child processes never
// inherit it.
func (m *Manager) acquireSys(name, path string, mode LockMode, timeout time.Duration) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_EX
	if mode == Shared {
		how = unix.LOCK_SH
	}

	deadline := time.Now().Add(timeout)
	retriedStale := false
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		// flock drops with its holder, but a fallback-created lock file
		// from a dead process can still name a dead pid. Clear it once.
		if !retriedStale {
			if pid := ownerPID(path); pid > 0 && !pidAlive(pid) {
				removeStale(path)
				retriedStale = true
				continue
			}
			retriedStale = true
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, werrors.ErrLockTimeout(name, timeout.String())
		}
		time.Sleep(pollInterval)
	}

	if mode == Exclusive {
		writeOwner(f)
	}
	return &Handle{name: name, mode: mode, file: f, manager: m, refs: 1}, nil
}

func (m *Manager) unlock(h *Handle) error {
	if h.file == nil {
		return nil
	}
	err := unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	closeErr := h.file.Close()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", h.name, err)
	}
	return closeErr
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}
