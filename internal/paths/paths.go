// Package paths resolves repository, session, and artifact locations for warden.
//
// All accessors are pure path math; nothing touches the filesystem except
// FindRepoRoot (reads markers), FindLegacy* (existence probes) and
// EnsureSessionDir (lazy creation on first write).
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/util"
)

// ContainDir is the per-repo containment directory for all warden artifacts.
const ContainDir = ".orchestrator"

// Legacy layout filenames. Readable forever, never written.
const (
	LegacyStateFile      = ".workflow_state.json"
	LegacyLogFile        = ".workflow_log.jsonl"
	LegacyCheckpointsDir = ".workflow_checkpoints"
)

// maxWalkUp bounds the repo-root search.
const maxWalkUp = 32

// Mode selects the session directory policy.
type Mode string

const (
	// ModeNormal keeps session data out of version control (gitignored).
	ModeNormal Mode = "normal"
	// ModePortable leaves session data trackable so it can travel with the repo.
	ModePortable Mode = "portable"
)

// Paths exposes typed locations for every per-session artifact.
type Paths struct {
	repoRoot  string
	sessionID string
	mode      Mode
}

// FindRepoRoot walks up from base until a .git directory or workflow.yaml
// marker is found, checking at most 32 levels.
func FindRepoRoot(base string) (string, error) {
	dir, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}

	for i := 0; i < maxWalkUp; i++ {
		if isRepoRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", werrors.ErrRepoNotFound(base)
}

func isRepoRoot(dir string) bool {
	if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "workflow.yaml")); err == nil {
		return true
	}
	return false
}

// NewPaths creates a path resolver rooted at the repository containing base.
// sessionID may be empty for accessors that only need repo-level paths.
func NewPaths(base, sessionID string, mode Mode) (*Paths, error) {
	root, err := FindRepoRoot(base)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = ModeNormal
	}
	return &Paths{repoRoot: root, sessionID: sessionID, mode: mode}, nil
}

// NewPathsAt creates a resolver for an already-known repo root, skipping the
// marker walk. Used by tests and by callers that resolved the root earlier.
func NewPathsAt(repoRoot, sessionID string, mode Mode) *Paths {
	if mode == "" {
		mode = ModeNormal
	}
	return &Paths{repoRoot: repoRoot, sessionID: sessionID, mode: mode}
}

// RepoRoot returns the resolved repository root.
func (p *Paths) RepoRoot() string { return p.repoRoot }

// SessionID returns the session this resolver is bound to.
func (p *Paths) SessionID() string { return p.sessionID }

// Mode returns the session directory policy.
func (p *Paths) Mode() Mode { return p.mode }

// WithSession returns a copy of the resolver bound to a different session.
func (p *Paths) WithSession(sessionID string) *Paths {
	return &Paths{repoRoot: p.repoRoot, sessionID: sessionID, mode: p.mode}
}

// ContainmentDir returns <root>/.orchestrator.
func (p *Paths) ContainmentDir() string {
	return filepath.Join(p.repoRoot, ContainDir)
}

// CurrentFile returns the pointer file naming the active session.
func (p *Paths) CurrentFile() string {
	return filepath.Join(p.ContainmentDir(), "current")
}

// SessionsDir returns the directory holding all sessions.
func (p *Paths) SessionsDir() string {
	return filepath.Join(p.ContainmentDir(), "sessions")
}

// SessionDir returns this session's directory.
func (p *Paths) SessionDir() string {
	return filepath.Join(p.SessionsDir(), p.sessionID)
}

// StateFile returns the workflow state path.
func (p *Paths) StateFile() string {
	return filepath.Join(p.SessionDir(), "state.json")
}

// LogFile returns the event log path.
func (p *Paths) LogFile() string {
	return filepath.Join(p.SessionDir(), "log.jsonl")
}

// AuditFile returns the hash-chained audit log path.
func (p *Paths) AuditFile() string {
	return filepath.Join(p.SessionDir(), "audit.jsonl")
}

// CheckpointsDir returns the checkpoint directory.
func (p *Paths) CheckpointsDir() string {
	return filepath.Join(p.SessionDir(), "checkpoints")
}

// FeedbackDir returns the feedback drop directory.
func (p *Paths) FeedbackDir() string {
	return filepath.Join(p.SessionDir(), "feedback")
}

// MetaFile returns the session metadata path.
func (p *Paths) MetaFile() string {
	return filepath.Join(p.SessionDir(), "meta.json")
}

// IndexFile returns the sqlite event index path.
func (p *Paths) IndexFile() string {
	return filepath.Join(p.SessionDir(), "index.db")
}

// LocksDir returns the directory holding advisory lock files.
func (p *Paths) LocksDir() string {
	return filepath.Join(p.SessionDir(), "locks")
}

// RepoLocksDir returns the repo-level lock directory used for resources
// that exist outside any session, such as the current-session pointer.
func (p *Paths) RepoLocksDir() string {
	return filepath.Join(p.ContainmentDir(), "locks")
}

// FindLegacyStateFile returns the legacy state path if it exists, else "".
func (p *Paths) FindLegacyStateFile() string {
	return p.legacyIfExists(LegacyStateFile)
}

// FindLegacyLogFile returns the legacy log path if it exists, else "".
func (p *Paths) FindLegacyLogFile() string {
	return p.legacyIfExists(LegacyLogFile)
}

// FindLegacyCheckpointsDir returns the legacy checkpoint dir if it exists, else "".
func (p *Paths) FindLegacyCheckpointsDir() string {
	return p.legacyIfExists(LegacyCheckpointsDir)
}

func (p *Paths) legacyIfExists(name string) string {
	path := filepath.Join(p.repoRoot, name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// EnsureSessionDir creates the session directory tree on first write. In
// normal mode the session directory is gitignored wholesale.
func (p *Paths) EnsureSessionDir() error {
	dir := p.SessionDir()
	for _, sub := range []string{dir, p.CheckpointsDir(), p.FeedbackDir(), p.LocksDir()} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	if p.mode == ModeNormal {
		gi := filepath.Join(dir, ".gitignore")
		if _, err := os.Stat(gi); os.IsNotExist(err) {
			if err := util.AtomicWriteFile(gi, []byte("*\n"), 0644); err != nil {
				return fmt.Errorf("write session gitignore: %w", err)
			}
		}
	}
	return nil
}
