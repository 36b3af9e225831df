package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/paths"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0755))
	p := paths.NewPathsAt(repo, "", paths.ModeNormal)
	return NewManager(p, nil), repo
}

func TestCreateSession(t *testing.T) {
	m, repo := newManager(t)

	id, err := m.Create()
	require.NoError(t, err)
	assert.Len(t, id, 8)

	// Directory tree and meta exist.
	dir := filepath.Join(repo, paths.ContainDir, "sessions", id)
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, "meta.json"))

	// Pointer names the new session.
	current, err := m.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, id, current)
}

func TestCreateRecordsGitRemote(t *testing.T) {
	m, repo := newManager(t)
	gitConfig := "[remote \"origin\"]\n\turl = git@example.com:acme/widgets.git\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".git", "config"), []byte(gitConfig), 0644))

	id, err := m.Create()
	require.NoError(t, err)

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "git@example.com:acme/widgets.git", list[0].Meta.GitRemote)
	assert.True(t, list[0].Current)
}

func TestListEmpty(t *testing.T) {
	m, _ := newManager(t)
	list, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSwitchSessions(t *testing.T) {
	m, _ := newManager(t)

	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	current, err := m.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, b, current)

	require.NoError(t, m.SetCurrent(a))
	current, err = m.GetCurrent()
	require.NoError(t, err)
	assert.Equal(t, a, current)

	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSetCurrentUnknownSession(t *testing.T) {
	m, _ := newManager(t)
	err := m.SetCurrent("deadbeef")
	require.Error(t, err)
	assert.Equal(t, werrors.CodeSessionConflict, werrors.AsWardenError(err).Code)
}

func TestGetCurrentNoPointer(t *testing.T) {
	m, _ := newManager(t)
	current, err := m.GetCurrent()
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestCurrentOrCreate(t *testing.T) {
	m, _ := newManager(t)

	id, err := m.CurrentOrCreate()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := m.CurrentOrCreate()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestCurrentOrCreateRepairsDanglingPointer(t *testing.T) {
	m, repo := newManager(t)

	id, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(repo, paths.ContainDir, "sessions", id)))

	fresh, err := m.CurrentOrCreate()
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)
}
