package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/paths"
	"github.com/wardenhq/warden/internal/util"
)

// LoadOption configures Load behavior.
type LoadOption func(*loadOptions)

type loadOptions struct {
	lenient bool
	logger  *slog.Logger
}

// WithLenientIntegrity makes checksum mismatches a logged warning instead
// of an error. Used by recovery tooling only; the engine always loads strict.
func WithLenientIntegrity(logger *slog.Logger) LoadOption {
	return func(o *loadOptions) {
		o.lenient = true
		o.logger = logger
	}
}

// Save persists a workflow state atomically. The file is written as
// canonical JSON (sorted keys) with _version, _updated_at, and _checksum
// embedded; the checksum covers everything except _checksum and
// _updated_at. A failed write leaves any existing file intact.
func Save(s *WorkflowState, path string) error {
	s.SchemaVersion = Version
	s.SavedAt = time.Now().UTC().Format(time.RFC3339)

	sum, err := ChecksumState(s)
	if err != nil {
		return fmt.Errorf("checksum state: %w", err)
	}
	s.Checksum = sum

	canonical, err := Canonicalize(s)
	if err != nil {
		return fmt.Errorf("canonicalize state: %w", err)
	}
	if err := util.AtomicWriteFile(path, canonical, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Load reads and verifies a workflow state file.
func Load(path string, opts ...LoadOption) (*WorkflowState, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	version := gjson.GetBytes(data, "_version").String()
	if version == "" {
		return nil, werrors.ErrStateVersion("(none)", Version)
	}
	if majorOf(version) != majorOf(Version) {
		return nil, werrors.ErrStateVersion(version, Version)
	}

	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}

	if err := verifyChecksum(&s, path, o); err != nil {
		return nil, err
	}
	return &s, nil
}

func verifyChecksum(s *WorkflowState, path string, o loadOptions) error {
	want, err := ChecksumState(s)
	if err != nil {
		return fmt.Errorf("recompute checksum: %w", err)
	}
	if ConstantTimeEqual(want, s.Checksum) {
		return nil
	}
	if o.lenient {
		logger := o.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("state checksum mismatch, continuing per policy",
			"path", path, "stored", s.Checksum, "computed", want)
		return nil
	}
	return werrors.ErrStateIntegrity(path)
}

func majorOf(version string) string {
	major, _, _ := strings.Cut(version, ".")
	return major
}

// LoadForSession loads the session's state, falling back to the legacy
// repo-root layout when the session file does not exist yet. Legacy files
// are read-only; the first Save through the session path migrates them.
// The returned bool reports whether the legacy file was used.
func LoadForSession(p *paths.Paths, opts ...LoadOption) (*WorkflowState, bool, error) {
	s, err := Load(p.StateFile(), opts...)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	legacy := p.FindLegacyStateFile()
	if legacy == "" {
		return nil, false, werrors.ErrWorkflowNotFound()
	}
	s, err = loadLegacy(legacy)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// loadLegacy reads a pre-3.0 state file. Legacy files predate the
// checksum scheme, so only shape is validated.
func loadLegacy(path string) (*WorkflowState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy state: %w", err)
	}

	// A legacy file that already carries a 3.x version is really a
	// misplaced current file; verify it fully.
	if v := gjson.GetBytes(data, "_version").String(); v != "" && majorOf(v) == majorOf(Version) {
		return Load(path)
	}

	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse legacy state: %w", err)
	}
	if s.Status == "" {
		s.Status = WorkflowActive
	}
	s.SchemaVersion = Version
	s.Checksum = ""
	return &s, nil
}
