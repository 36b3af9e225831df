package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/paths"
)

func sampleState() *WorkflowState {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &WorkflowState{
		WorkflowID:  "wf-12ab34cd",
		Task:        "fix the login flow",
		Constraints: []string{"no schema changes"},
		Status:      WorkflowActive,
		PhaseCursor: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
		Phases: []PhaseState{
			{
				ID:     "plan",
				Status: StatusInProgress,
				Items: []ItemState{
					{ID: "plan_file", Status: StatusPending},
					{ID: "design_notes", Status: StatusCompleted, RetryCount: 0},
				},
			},
			{
				ID:     "review",
				Status: StatusPending,
				Items: []ItemState{
					{ID: "security_review", Status: StatusPending},
				},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := sampleState()

	require.NoError(t, Save(s, path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, s.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, s.Task, loaded.Task)
	assert.Equal(t, s.Phases, loaded.Phases)
	assert.Equal(t, Version, loaded.SchemaVersion)
	assert.NotEmpty(t, loaded.Checksum)

	// Re-canonicalized bytes are stable across save/load
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, Save(loaded, path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	// Only _updated_at and the timestamp-free checksum may differ; strip
	// both and compare.
	strip := func(b []byte) map[string]any {
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		delete(m, "_updated_at")
		return m
	}
	assert.Equal(t, strip(first), strip(second))
}

func TestTamperDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(sampleState(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "fix the login flow", "fix the login flaw", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err = Load(path)
	require.Error(t, err)
	assert.Equal(t, werrors.CodeStateIntegrity, werrors.AsWardenError(err).Code)
}

func TestTamperExcludedFieldsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(sampleState(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["_updated_at"] = "1999-01-01T00:00:00Z"
	edited, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, edited, 0644))

	_, err = Load(path)
	assert.NoError(t, err, "_updated_at is outside the checksum")
}

func TestLenientIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(sampleState(), path))

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), "login", "logout", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err := Load(path, WithLenientIntegrity(nil))
	assert.NoError(t, err)
}

func TestVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"_version":"2.1","workflow_id":"x"}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, werrors.CodeStateVersion, werrors.AsWardenError(err).Code)
}

func TestMissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"workflow_id":"x"}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, werrors.CodeStateVersion, werrors.AsWardenError(err).Code)
}

func TestLoadForSessionLegacyFallback(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))
	p := paths.NewPathsAt(repo, "s1", paths.ModeNormal)

	legacy := `{"workflow_id":"wf-legacy","task":"old task","phase_cursor":0,"phases":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(repo, paths.LegacyStateFile), []byte(legacy), 0644))

	s, fromLegacy, err := LoadForSession(p)
	require.NoError(t, err)
	assert.True(t, fromLegacy)
	assert.Equal(t, "wf-legacy", s.WorkflowID)
	assert.Equal(t, WorkflowActive, s.Status)

	// First save goes to the new path; the legacy file is never touched.
	require.NoError(t, p.EnsureSessionDir())
	require.NoError(t, Save(s, p.StateFile()))

	kept, err := os.ReadFile(filepath.Join(repo, paths.LegacyStateFile))
	require.NoError(t, err)
	assert.Equal(t, legacy, string(kept))

	s2, fromLegacy2, err := LoadForSession(p)
	require.NoError(t, err)
	assert.False(t, fromLegacy2, "new path is preferred once written")
	assert.Equal(t, "wf-legacy", s2.WorkflowID)
}

func TestLoadForSessionNoState(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))
	p := paths.NewPathsAt(repo, "s1", paths.ModeNormal)

	_, _, err := LoadForSession(p)
	require.Error(t, err)
	assert.Equal(t, werrors.CodeWorkflowNotFound, werrors.AsWardenError(err).Code)
}

func TestChecksumIndependentOfKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": "x", "_checksum": "zzz", "_updated_at": "now"}
	b := map[string]any{"a": "x", "b": 1.0}

	ca, err := ChecksumDoc(a)
	require.NoError(t, err)
	cb, err := ChecksumDoc(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "ab"))
}

func TestClone(t *testing.T) {
	s := sampleState()
	s.Phases[0].Items[0].GateResult = &GateRecord{Passed: true, Details: []string{"ok"}}

	c := s.Clone()
	c.Phases[0].Items[0].Status = StatusFailed
	c.Phases[0].Items[0].GateResult.Details[0] = "changed"

	assert.Equal(t, StatusPending, s.Phases[0].Items[0].Status)
	assert.Equal(t, "ok", s.Phases[0].Items[0].GateResult.Details[0])
}
