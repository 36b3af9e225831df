package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/events"
)

func openIndex(t *testing.T) *Index {
	t.Helper()
	x, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func at(sec int) time.Time {
	return time.Date(2026, 8, 1, 12, 0, sec, 0, time.UTC)
}

func TestRecordAndQuery(t *testing.T) {
	x := openIndex(t)

	require.NoError(t, x.Record(events.Event{Type: events.EventWorkflowStarted, WorkflowID: "wf-1", Time: at(0)}))
	require.NoError(t, x.Record(events.Event{Type: events.EventItemCompleted, WorkflowID: "wf-1", Time: at(1), Data: map[string]any{"item_id": "a"}}))
	require.NoError(t, x.Record(events.Event{Type: events.EventItemCompleted, WorkflowID: "wf-2", Time: at(2)}))

	rows, err := x.Query(QueryOptions{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, events.EventWorkflowStarted, rows[0].Type)
	assert.Equal(t, events.EventItemCompleted, rows[1].Type)
	assert.JSONEq(t, `{"item_id":"a"}`, string(rows[1].Data))
	assert.Equal(t, at(1), rows[1].Time)
}

func TestQueryFilters(t *testing.T) {
	x := openIndex(t)
	for i, typ := range []events.EventType{
		events.EventWorkflowStarted,
		events.EventItemCompleted,
		events.EventItemFailed,
		events.EventPhaseAdvanced,
	} {
		require.NoError(t, x.Record(events.Event{Type: typ, WorkflowID: "wf-1", Time: at(i)}))
	}

	rows, err := x.Query(QueryOptions{Types: []events.EventType{events.EventItemCompleted, events.EventItemFailed}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = x.Query(QueryOptions{Since: at(2)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = x.Query(QueryOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, events.EventWorkflowStarted, rows[0].Type)
}

func TestRecordDeduplicates(t *testing.T) {
	x := openIndex(t)
	e := events.Event{Type: events.EventWarning, WorkflowID: "wf-1", Time: at(0)}

	require.NoError(t, x.Record(e))
	require.NoError(t, x.Record(e))

	n, err := x.Count("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebuildFromLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log.jsonl")
	pub := events.NewPersistentPublisher(events.NewNopPublisher(), logPath, nil)
	pub.Publish(events.Event{Type: events.EventWorkflowStarted, WorkflowID: "wf-1", Time: at(0)})
	pub.Publish(events.Event{Type: events.EventItemCompleted, WorkflowID: "wf-1", Time: at(1)})

	x, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer x.Close()

	n, err := x.Rebuild(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Replays dedupe.
	_, err = x.Rebuild(logPath)
	require.NoError(t, err)
	total, err := x.Count("")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
