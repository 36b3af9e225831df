package checkpoint

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
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/state"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	repo := t.TempDir()
	dir := filepath.Join(repo, "checkpoints")
	locks := lock.NewManager(filepath.Join(repo, "locks"))
	return New(dir, "", repo, locks, nil), repo
}

func snapshot() *state.WorkflowState {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &state.WorkflowState{
		WorkflowID: "wf-12ab34cd",
		Task:       "sample task",
		Status:     state.WorkflowActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Phases: []state.PhaseState{
			{ID: "plan", Status: state.StatusInProgress, Items: []state.ItemState{
				{ID: "plan_file", Status: state.StatusCompleted},
			}},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newStore(t)

	id, err := s.Create("before refactor", "", []string{"use sqlite"}, "phase plan done", snapshot())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "cp-"))

	cp, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "before refactor", cp.Label)
	assert.Equal(t, []string{"use sqlite"}, cp.Decisions)
	assert.Equal(t, "phase plan done", cp.ContextSummary)
	assert.Equal(t, "wf-12ab34cd", cp.StateSnapshot.WorkflowID)
	assert.NotEmpty(t, cp.Checksum)
}

func TestIDFormat(t *testing.T) {
	id := NewID()
	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "cp", parts[0])
	assert.Len(t, parts[2], 4)
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get("cp-123-dead")
	require.Error(t, err)
	assert.Equal(t, werrors.CodeCheckpointNotFound, werrors.AsWardenError(err).Code)
}

func TestTamperDetection(t *testing.T) {
	s, _ := newStore(t)
	id, err := s.Create("x", "", nil, "", snapshot())
	require.NoError(t, err)

	path := s.path(id)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "sample task", "another task", 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	_, err = s.Get(id)
	require.Error(t, err)
	assert.Equal(t, werrors.CodeStateIntegrity, werrors.AsWardenError(err).Code)
}

func TestSnapshotIsIsolated(t *testing.T) {
	s, _ := newStore(t)
	snap := snapshot()

	id, err := s.Create("x", "", nil, "", snap)
	require.NoError(t, err)

	// Mutating the live state after Create must not reach the stored copy.
	snap.Phases[0].Items[0].Status = state.StatusFailed

	cp, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, cp.StateSnapshot.Phases[0].Items[0].Status)
}

func TestChain(t *testing.T) {
	s, _ := newStore(t)

	a, err := s.Create("first", "", nil, "", snapshot())
	require.NoError(t, err)
	b, err := s.Create("second", a, nil, "", snapshot())
	require.NoError(t, err)
	c, err := s.Create("third", b, nil, "", snapshot())
	require.NoError(t, err)

	chain, err := s.GetChain(c)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, c, chain[0].ID)
	assert.Equal(t, b, chain[1].ID)
	assert.Equal(t, a, chain[2].ID)
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Create("x", "cp-999-beef", nil, "", snapshot())
	require.Error(t, err)
	assert.Equal(t, werrors.CodeCheckpointNotFound, werrors.AsWardenError(err).Code)
}

func TestChainCycleRejected(t *testing.T) {
	s, _ := newStore(t)

	a, err := s.Create("a", "", nil, "", snapshot())
	require.NoError(t, err)
	b, err := s.Create("b", a, nil, "", snapshot())
	require.NoError(t, err)

	// Rewrite a's parent to b, closing a loop the store would never create.
	cp, err := s.Get(a)
	require.NoError(t, err)
	cp.ParentID = b
	sum, err := checksum(cp)
	require.NoError(t, err)
	cp.Checksum = sum
	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path(a), raw, 0644))

	_, err = s.GetChain(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestList(t *testing.T) {
	s, _ := newStore(t)
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	a, err := s.Create("a", "", nil, "", snapshot())
	require.NoError(t, err)
	b, err := s.Create("b", a, nil, "", snapshot())
	require.NoError(t, err)

	list, err = s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, list)
}

func TestManifest(t *testing.T) {
	s, repo := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "docs", "adr"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "workflow.yaml"), []byte("name: x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "docs", "plan.md"), []byte("# p\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "docs", "adr", "001.md"), []byte("# a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "notes.txt"), []byte("n"), 0644))

	id, err := s.Create("x", "", nil, "", snapshot())
	require.NoError(t, err)
	cp, err := s.Get(id)
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/adr/001.md", "docs/plan.md", "workflow.yaml"}, cp.FileManifest)
}

func TestLegacyFallback(t *testing.T) {
	repo := t.TempDir()
	legacyDir := filepath.Join(repo, ".workflow_checkpoints")
	require.NoError(t, os.MkdirAll(legacyDir, 0755))
	legacy := `{"label":"old","created_at":"2024-01-01T00:00:00Z","state_snapshot":{"workflow_id":"wf-old","phases":[]}}`
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "cp-1-aaaa.json"), []byte(legacy), 0644))

	locks := lock.NewManager(filepath.Join(repo, "locks"))
	s := New(filepath.Join(repo, "checkpoints"), legacyDir, repo, locks, nil)

	cp, err := s.Get("cp-1-aaaa")
	require.NoError(t, err)
	assert.Equal(t, "old", cp.Label)
	assert.Equal(t, "cp-1-aaaa", cp.ID)
	assert.Equal(t, "wf-old", cp.StateSnapshot.WorkflowID)
}

func TestListSortsChronologically(t *testing.T) {
	// The id embeds a millisecond timestamp; lexical sort of equal-width
	// timestamps is chronological within a process lifetime.
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	assert.Less(t, a, b)
}
