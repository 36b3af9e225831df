package engine

import (
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/checkpoint"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/state"
)

// metaLastCheckpoint is the state metadata key chaining checkpoints.
const metaLastCheckpoint = "last_checkpoint"

func (e *Engine) checkpoints() *checkpoint.Store {
	return checkpoint.New(
		e.paths.CheckpointsDir(),
		e.paths.FindLegacyCheckpointsDir(),
		e.paths.RepoRoot(),
		e.locks,
		e.logger,
	)
}

// Checkpoint snapshots the current state. The new checkpoint's parent is
// the previous one taken in this session, forming a restorable chain.
func (e *Engine) Checkpoint(label string, decisions []string, summary string) (string, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return "", err
	}
	e.auditModeDetected()

	var (
		id string
		st *state.WorkflowState
	)
	err := e.withState(lock.Exclusive, func() error {
		loaded, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		parent, _ := loaded.Metadata[metaLastCheckpoint].(string)

		id, err = e.checkpoints().Create(label, parent, decisions, summary, loaded)
		if err != nil {
			return err
		}
		if loaded.Metadata == nil {
			loaded.Metadata = map[string]any{}
		}
		loaded.Metadata[metaLastCheckpoint] = id
		loaded.Touch()
		if err := state.Save(loaded, e.paths.StateFile()); err != nil {
			return err
		}
		st = loaded
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := e.audit.Append(audit.KindCheckpointCreated, map[string]any{
		"workflow_id":   st.WorkflowID,
		"checkpoint_id": id,
		"label":         label,
	}); err != nil {
		return "", err
	}
	e.pub.Publish(events.NewEvent(events.EventCheckpointCreated, st.WorkflowID, map[string]any{
		"checkpoint_id": id,
		"label":         label,
	}))
	return id, nil
}

// ListCheckpoints returns the session's checkpoint ids, oldest first.
func (e *Engine) ListCheckpoints() ([]string, error) {
	return e.checkpoints().List()
}

// Resume replaces the session state with a checkpoint's snapshot. The
// restore itself is recorded so the audit trail explains the rollback.
func (e *Engine) Resume(checkpointID string) (*state.WorkflowState, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var st *state.WorkflowState
	err := e.withState(lock.Exclusive, func() error {
		cp, err := e.checkpoints().Get(checkpointID)
		if err != nil {
			return err
		}
		restored := cp.StateSnapshot.Clone()
		if restored.Metadata == nil {
			restored.Metadata = map[string]any{}
		}
		restored.Metadata[metaLastCheckpoint] = checkpointID
		restored.Touch()
		if err := state.Save(restored, e.paths.StateFile()); err != nil {
			return err
		}
		st = restored
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.audit.Append(audit.KindCheckpointCreated, map[string]any{
		"workflow_id":   st.WorkflowID,
		"checkpoint_id": checkpointID,
		"action":        "restored",
	}); err != nil {
		return nil, err
	}
	e.pub.Publish(events.NewEvent(events.EventCheckpointCreated, st.WorkflowID, map[string]any{
		"checkpoint_id": checkpointID,
		"action":        "restored",
	}))
	return st, nil
}
