// Package lock provides advisory file locking for warden sessions.
//
// On unix the implementation is flock(2); platforms without advisory locks
// fall back to atomically-created lock files with pid+hostname and stale
// detection. Callers treat the handle as opaque.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	werrors "github.com/wardenhq/warden/internal/errors"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	// Shared allows concurrent readers.
	Shared LockMode = iota
	// Exclusive allows a single writer.
	Exclusive
)

// Well-known resource names. Locks must be acquired in canonical rank
// order: migration, state, audit, then checkpoint-or-session locks.
const (
	ResourceMigration = "migration"
	ResourceState     = "state"
	ResourceAudit     = "audit"
)

// DefaultTimeout is used when callers pass a non-positive timeout.
const DefaultTimeout = 10 * time.Second

const pollInterval = 25 * time.Millisecond

// rank returns the canonical acquire order for a resource name. Unknown
// names (checkpoint ids, session ids) rank last.
func rank(name string) int {
	switch name {
	case ResourceMigration:
		return 0
	case ResourceState:
		return 1
	case ResourceAudit:
		return 2
	default:
		return 3
	}
}

// Handle represents a held lock. Release is idempotent.
type Handle struct {
	name    string
	mode    LockMode
	file    *os.File
	manager *Manager

	mu       sync.Mutex
	released bool
	refs     int
}

// Name returns the resource name this handle locks.
func (h *Handle) Name() string { return h.name }

// Mode returns the lock mode.
func (h *Handle) Mode() LockMode { return h.mode }

// Release drops one reference to the lock and unlocks once the last
// reference is gone.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	h.released = true
	h.manager.forget(h)
	return h.manager.unlock(h)
}

// Manager acquires and tracks locks for a single session directory. All
// warden mutation paths share one Manager so the canonical acquire order
// can be enforced process-wide.
type Manager struct {
	dir string

	mu   sync.Mutex
	held map[string]*Handle
}

// NewManager creates a lock manager over the given locks directory.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, held: make(map[string]*Handle)}
}

// lockPath maps a resource name to its lock file.
func (m *Manager) lockPath(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	return filepath.Join(m.dir, safe+".lock")
}

// Acquire obtains the named lock in the given mode, waiting up to timeout.
// Re-acquiring a lock already held by this manager in the same mode
// increments its reference count; upgrading requires releasing first.
func (m *Manager) Acquire(name string, mode LockMode, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	m.mu.Lock()
	if existing, ok := m.held[name]; ok {
		if existing.mode != mode {
			m.mu.Unlock()
			return nil, fmt.Errorf("lock %q already held in a different mode; release before upgrading", name)
		}
		existing.mu.Lock()
		existing.refs++
		existing.mu.Unlock()
		m.mu.Unlock()
		return existing, nil
	}
	// Canonical order check against everything currently held.
	for heldName := range m.held {
		if rank(name) < rank(heldName) {
			m.mu.Unlock()
			return nil, werrors.ErrLockCycle(heldName, name)
		}
	}
	m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}

	path := m.lockPath(name)
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return nil, werrors.ErrLockPathNotSafe(path)
	}

	h, err := m.acquireSys(name, path, mode, timeout)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.held[name] = h
	m.mu.Unlock()
	registerHandle(h)
	return h, nil
}

func (m *Manager) forget(h *Handle) {
	m.mu.Lock()
	if m.held[h.name] == h {
		delete(m.held, h.name)
	}
	m.mu.Unlock()
	unregisterHandle(h)
}

// ReleaseAll releases every lock this manager still holds, in reverse
// rank order. Used on shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.held))
	for _, h := range m.held {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.refs = 1 // force final release
		h.mu.Unlock()
		_ = h.Release()
	}
}

// writeOwner records pid and hostname into the lock file for stale
// detection and operator diagnostics.
func writeOwner(f *os.File) {
	host, _ := os.Hostname()
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+" "+host+"\n"), 0)
}

// ownerPID parses the pid recorded in a lock file. Returns 0 when absent
// or unparseable.
func ownerPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return pid
}

// removeStale atomically renames a stale lock file aside and unlinks it,
// so a half-dead competitor never sees a partially deleted lock.
func removeStale(path string) {
	removing := path + ".removing"
	if err := os.Rename(path, removing); err != nil {
		return
	}
	_ = os.Remove(removing)
}

// --- process exit cleanup ---

var (
	exitMu      sync.Mutex
	exitHandles = make(map[*Handle]struct{})
)

func registerHandle(h *Handle) {
	exitMu.Lock()
	exitHandles[h] = struct{}{}
	exitMu.Unlock()
}

func unregisterHandle(h *Handle) {
	exitMu.Lock()
	delete(exitHandles, h)
	exitMu.Unlock()
}

// ReleaseAtExit releases every lock still registered in this process.
// The CLI calls this from its shutdown path.
func ReleaseAtExit() {
	exitMu.Lock()
	handles := make([]*Handle, 0, len(exitHandles))
	for h := range exitHandles {
		handles = append(handles, h)
	}
	exitMu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.refs = 1
		h.mu.Unlock()
		_ = h.Release()
	}
}
