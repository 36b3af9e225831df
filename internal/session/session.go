// Package session creates and selects per-workflow sessions under the
// containment directory. Each session isolates one workflow's state,
// audit, and checkpoints; a repo-level pointer file names the active one.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/config"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/paths"
	"github.com/wardenhq/warden/internal/util"
)

// currentLockTimeout bounds how long a pointer update waits for the
// repo-level lock before reporting a conflict.
const currentLockTimeout = 3 * time.Second

// Meta is the per-session identity record, persisted as meta.json.
type Meta struct {
	CreatedAt string `json:"created_at"`
	RepoRoot  string `json:"repo_root"`
	GitRemote string `json:"git_remote,omitempty"`
	Version   string `json:"orchestrator_version"`
}

// Info pairs a session id with its metadata for listings.
type Info struct {
	ID      string
	Meta    Meta
	Current bool
}

// Manager creates, lists, and selects sessions for one repository.
type Manager struct {
	paths  *paths.Paths
	logger *slog.Logger
}

// NewManager builds a session manager over a repo-level path resolver.
func NewManager(p *paths.Paths, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{paths: p, logger: logger}
}

// Create makes a new session directory, writes its metadata, and points
// the current-session file at it.
func (m *Manager) Create() (string, error) {
	id := util.ShortID(uuid.NewString())
	sp := m.paths.WithSession(id)
	if err := sp.EnsureSessionDir(); err != nil {
		return "", err
	}

	meta := Meta{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		RepoRoot:  m.paths.RepoRoot(),
		GitRemote: gitRemote(m.paths.RepoRoot()),
		Version:   config.ToolVersion,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session meta: %w", err)
	}
	if err := util.AtomicWriteFile(sp.MetaFile(), raw, 0644); err != nil {
		return "", fmt.Errorf("write session meta: %w", err)
	}

	if err := m.SetCurrent(id); err != nil {
		return "", err
	}
	m.logger.Debug("session created", "session", id)
	return id, nil
}

// SetCurrent atomically rewrites the current-session pointer. A held
// repo-level lock from another process surfaces as SessionConflict.
func (m *Manager) SetCurrent(id string) error {
	if _, err := os.Stat(m.paths.WithSession(id).SessionDir()); err != nil {
		return werrors.ErrSessionConflict(fmt.Sprintf("session %s does not exist", id))
	}

	locks := lock.NewManager(m.paths.RepoLocksDir())
	h, err := locks.Acquire("current", lock.Exclusive, currentLockTimeout)
	if err != nil {
		if werrors.AsWardenError(err) != nil && werrors.AsWardenError(err).Code == werrors.CodeLockTimeout {
			return werrors.ErrSessionConflict("another process is switching sessions")
		}
		return err
	}
	defer h.Release()

	if err := util.AtomicWriteFile(m.paths.CurrentFile(), []byte(id+"\n"), 0644); err != nil {
		return fmt.Errorf("write current pointer: %w", err)
	}
	return nil
}

// GetCurrent reads the current-session pointer. Empty string when no
// session has been created yet.
func (m *Manager) GetCurrent() (string, error) {
	data, err := os.ReadFile(m.paths.CurrentFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// List enumerates session directories, newest first by creation time.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.paths.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	current, err := m.GetCurrent()
	if err != nil {
		return nil, err
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := Info{ID: e.Name(), Current: e.Name() == current}
		if raw, err := os.ReadFile(m.paths.WithSession(e.Name()).MetaFile()); err == nil {
			_ = json.Unmarshal(raw, &info.Meta)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta.CreatedAt > out[j].Meta.CreatedAt
	})
	return out, nil
}

// CurrentOrCreate returns the current session id, creating a session
// when none exists yet.
func (m *Manager) CurrentOrCreate() (string, error) {
	id, err := m.GetCurrent()
	if err != nil {
		return "", err
	}
	if id != "" {
		if _, err := os.Stat(m.paths.WithSession(id).SessionDir()); err == nil {
			return id, nil
		}
		m.logger.Warn("current pointer names a missing session", "session", id)
	}
	return m.Create()
}

// gitRemote extracts the first remote url from .git/config, best effort.
func gitRemote(repoRoot string) string {
	data, err := os.ReadFile(filepath.Join(repoRoot, ".git", "config"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "url = "); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}
