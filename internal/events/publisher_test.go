package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToSubscriber(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("wf-1")
	p.Publish(NewEvent(EventItemCompleted, "wf-1", ItemUpdate{ItemID: "plan_file", Status: "completed"}))

	select {
	case e := <-ch:
		assert.Equal(t, EventItemCompleted, e.Type)
		assert.Equal(t, "wf-1", e.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishRoutesByWorkflow(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	other := p.Subscribe("wf-other")
	p.Publish(NewEvent(EventItemCompleted, "wf-1", nil))

	select {
	case e, ok := <-other:
		if ok {
			t.Fatalf("unexpected event %v", e)
		}
	default:
	}
}

func TestGlobalSubscriber(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	all := p.Subscribe(GlobalWorkflowID)
	p.Publish(NewEvent(EventPhaseAdvanced, "wf-1", nil))
	p.Publish(NewEvent(EventPhaseAdvanced, "wf-2", nil))

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatal("global subscriber missed an event")
		}
	}
}

func TestFullBufferDoesNotBlock(t *testing.T) {
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	p.Subscribe("wf-1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Publish(NewEvent(EventWarning, "wf-1", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("wf-1")
	require.Equal(t, 1, p.SubscriberCount("wf-1"))

	p.Unsubscribe("wf-1", ch)
	assert.Equal(t, 0, p.SubscriberCount("wf-1"))

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseStopsEverything(t *testing.T) {
	p := NewMemoryPublisher()
	ch := p.Subscribe("wf-1")
	p.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Publish after close is a no-op.
	p.Publish(NewEvent(EventWarning, "wf-1", nil))

	// Subscribe after close returns a closed channel.
	_, ok = <-p.Subscribe("wf-1")
	assert.False(t, ok)
}

func TestPersistentPublisherWritesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	p := NewPersistentPublisher(NewMemoryPublisher(), path, nil)
	defer p.Close()

	p.Publish(NewEvent(EventWorkflowStarted, "wf-1", map[string]any{"task": "x"}))
	p.Publish(NewEvent(EventItemCompleted, "wf-1", ItemUpdate{ItemID: "a", Status: "completed"}))

	got, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventWorkflowStarted, got[0].Type)
	assert.Equal(t, EventItemCompleted, got[1].Type)
	assert.Equal(t, "wf-1", got[1].WorkflowID)
}

func TestReadLogMissingFile(t *testing.T) {
	got, err := ReadLog(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadLogToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	raw := `{"type":"warning","workflow_id":"wf-1","future_field":42}` + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	got, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventWarning, got[0].Type)
}
