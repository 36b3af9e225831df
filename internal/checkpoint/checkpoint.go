// Package checkpoint stores immutable, chained snapshots of workflow
// state. Each checkpoint is a single checksummed JSON file; parent
// pointers form a lineage that is validated against cycles on insert.
package checkpoint

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wardenhq/warden/internal/config"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/util"
)

// maxChainDepth bounds lineage walks; a deeper chain means a cycle or
// an absurd history, and both are rejected.
const maxChainDepth = 1000

// DefaultManifestPatterns are the repo paths recorded in a checkpoint's
// file manifest.
var DefaultManifestPatterns = []string{"workflow.yaml", "docs/**/*.md"}

// Checkpoint is one immutable snapshot.
type Checkpoint struct {
	ID             string               `json:"id"`
	ParentID       string               `json:"parent_id,omitempty"`
	Label          string               `json:"label"`
	CreatedAt      string               `json:"created_at"`
	Decisions      []string             `json:"decisions,omitempty"`
	FileManifest   []string             `json:"file_manifest,omitempty"`
	ContextSummary string               `json:"context_summary,omitempty"`
	Version        string               `json:"orchestrator_version"`
	StateSnapshot  *state.WorkflowState `json:"state_snapshot"`

	SchemaVersion string `json:"_version"`
	Checksum      string `json:"_checksum,omitempty"`
	SavedAt       string `json:"_updated_at,omitempty"`
}

// Store owns a session's checkpoint directory. Checkpoints are
// write-once; nothing here mutates an existing file.
type Store struct {
	dir       string
	legacyDir string
	repoRoot  string
	locks     *lock.Manager
	patterns  []string
	logger    *slog.Logger
}

// New creates a checkpoint store. legacyDir may be empty; when set, Get
// falls back to it for checkpoints created by the old layout.
func New(dir, legacyDir, repoRoot string, locks *lock.Manager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       dir,
		legacyDir: legacyDir,
		repoRoot:  repoRoot,
		locks:     locks,
		patterns:  DefaultManifestPatterns,
		logger:    logger,
	}
}

// NewID generates a checkpoint id from a millisecond timestamp and a
// random suffix, collision-free under any realistic creation rate.
func NewID() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("cp-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// Create snapshots the given state under a new checkpoint id. parent
// may be empty; when set it must name an existing checkpoint whose
// lineage is acyclic.
func (s *Store) Create(label, parent string, decisions []string, summary string, snapshot *state.WorkflowState) (string, error) {
	if parent != "" {
		if _, err := s.GetChain(parent); err != nil {
			return "", err
		}
	}

	id := NewID()
	h, err := s.locks.Acquire(id, lock.Exclusive, 0)
	if err != nil {
		return "", err
	}
	defer h.Release()

	cp := &Checkpoint{
		ID:             id,
		ParentID:       parent,
		Label:          label,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		Decisions:      decisions,
		FileManifest:   s.manifest(),
		ContextSummary: summary,
		Version:        config.ToolVersion,
		StateSnapshot:  snapshot.Clone(),
		SchemaVersion:  state.Version,
		SavedAt:        time.Now().UTC().Format(time.RFC3339),
	}

	sum, err := checksum(cp)
	if err != nil {
		return "", err
	}
	cp.Checksum = sum

	canonical, err := state.Canonicalize(cp)
	if err != nil {
		return "", fmt.Errorf("canonicalize checkpoint: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create checkpoints dir: %w", err)
	}
	if err := util.AtomicWriteFile(s.path(id), canonical, 0644); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint created", "id", id, "label", label, "parent", parent)
	return id, nil
}

// Get loads one checkpoint and verifies its checksum. Falls back to the
// legacy checkpoint directory when the new path has no such id.
func (s *Store) Get(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) && s.legacyDir != "" {
			return s.getLegacy(id)
		}
		if os.IsNotExist(err) {
			return nil, werrors.ErrCheckpointNotFound(id)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", id, err)
	}

	want, err := checksum(&cp)
	if err != nil {
		return nil, err
	}
	if !state.ConstantTimeEqual(cp.Checksum, want) {
		return nil, werrors.ErrStateIntegrity(s.path(id))
	}
	return &cp, nil
}

// getLegacy reads a pre-containment checkpoint. Legacy files carry no
// checksum; they are parsed leniently and never rewritten in place.
func (s *Store) getLegacy(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.legacyDir, id+".json"))
	if err != nil {
		return nil, werrors.ErrCheckpointNotFound(id)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse legacy checkpoint %s: %w", id, err)
	}
	if cp.ID == "" {
		cp.ID = id
	}
	return &cp, nil
}

// List returns all checkpoint ids in the store, oldest first. The id
// format sorts chronologically except for the random suffix, which only
// ties within one millisecond.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetChain returns the checkpoint and its ancestors, nearest first.
// Cycles and over-deep chains are rejected.
func (s *Store) GetChain(id string) ([]*Checkpoint, error) {
	var chain []*Checkpoint
	seen := map[string]bool{}

	for current := id; current != ""; {
		if seen[current] {
			return nil, fmt.Errorf("checkpoint chain cycle at %s", current)
		}
		if len(chain) >= maxChainDepth {
			return nil, fmt.Errorf("checkpoint chain exceeds %d ancestors", maxChainDepth)
		}
		seen[current] = true

		cp, err := s.Get(current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cp)
		current = cp.ParentID
	}
	return chain, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// manifest globs the repo for the files worth recording alongside a
// snapshot. Paths are repo-relative with forward slashes.
func (s *Store) manifest() []string {
	var out []string
	for _, pattern := range s.patterns {
		matches, err := doublestar.Glob(os.DirFS(s.repoRoot), pattern)
		if err != nil {
			s.logger.Warn("manifest glob failed", "pattern", pattern, "error", err)
			continue
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}

// checksum computes the state-style checksum of a checkpoint document.
func checksum(cp *Checkpoint) (string, error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("reparse checkpoint: %w", err)
	}
	return state.ChecksumDoc(doc)
}
