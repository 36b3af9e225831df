package engine

import (
	"context"

	"github.com/wardenhq/warden/internal/audit"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/review"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/workflow"
)

// ReviewPhase dispatches every unsettled review item in the active
// phase concurrently and applies the settled results, one Complete
// worth of bookkeeping per item. Items already completed or skipped
// are left alone. The returned error is the first review failure;
// the state and results are valid either way.
func (e *Engine) ReviewPhase(ctx context.Context) (*state.WorkflowState, []*review.Result, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, nil, err
	}
	e.auditModeDetected()

	var (
		snapshot *state.WorkflowState
		pd       *workflow.PhaseDef
		pending  []*workflow.ItemDef
	)
	err := e.withState(lock.Exclusive, func() error {
		st, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if st.IsTerminal() {
			return werrors.ErrAlreadyTerminal(st.WorkflowID)
		}
		ps := st.ActivePhase()
		if ps == nil {
			return werrors.ErrAtTerminal()
		}
		pd = e.def.Phase(ps.ID)
		if pd == nil {
			return werrors.ErrDefInvalid("active phase " + ps.ID + " is not in the workflow definition")
		}
		for i := range pd.Items {
			di := &pd.Items[i]
			if di.ReviewType == "" {
				continue
			}
			is := ps.Item(di.ID)
			if is == nil || is.Status == state.StatusCompleted || is.Status == state.StatusSkipped {
				continue
			}
			is.Status = state.StatusInProgress
			pending = append(pending, di)
		}
		if len(pending) > 0 {
			st.Touch()
			if err := state.Save(st, e.paths.StateFile()); err != nil {
				return err
			}
		}
		snapshot = st.Clone()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(pending) == 0 {
		return snapshot, nil, nil
	}

	// The dispatch itself runs lock-free, all review types in flight
	// at once.
	results := e.dispatchPending(ctx, pending, pd, snapshot)

	var (
		applied  *state.WorkflowState
		firstErr error
	)
	err = e.withState(lock.Exclusive, func() error {
		st, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if st.IsTerminal() {
			return werrors.ErrAlreadyTerminal(st.WorkflowID)
		}
		for _, di := range pending {
			res := results[di.ReviewType]
			if res == nil {
				continue
			}
			if err := validateMutable(st, di.ID); err != nil {
				// Settled by another process meanwhile.
				continue
			}
			_, is := st.FindItem(di.ID)
			if outcome := e.applyReview(is, di, res, ""); outcome != nil && firstErr == nil {
				firstErr = outcome
			}
		}
		st.Touch()
		if err := state.Save(st, e.paths.StateFile()); err != nil {
			return err
		}
		applied = st
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	out := make([]*review.Result, 0, len(pending))
	for _, di := range pending {
		res := results[di.ReviewType]
		if res == nil {
			continue
		}
		e.recordCompletion(applied, di.ID, nil, res)
		out = append(out, res)
	}
	return applied, out, firstErr
}

// dispatchPending fans the pending review items out through the router.
// Without a configured executor every type settles as a credential
// failure, same as a single dispatch.
func (e *Engine) dispatchPending(ctx context.Context, pending []*workflow.ItemDef, pd *workflow.PhaseDef, st *state.WorkflowState) map[string]*review.Result {
	if e.router == nil {
		results := make(map[string]*review.Result, len(pending))
		for _, di := range pending {
			results[di.ReviewType] = &review.Result{
				ReviewType:     di.ReviewType,
				Success:        false,
				ErrorType:      review.ErrorKeyMissing,
				FallbackReason: "no review executor configured",
			}
		}
		return results
	}

	rc := review.Context{
		Task:        st.Task,
		Constraints: st.Constraints,
		PhaseNotes:  pd.Notes,
	}
	var reqs []review.Request
	seen := make(map[string]bool, len(pending))
	for _, di := range pending {
		if seen[di.ReviewType] {
			continue
		}
		seen[di.ReviewType] = true
		reqs = append(reqs, review.Request{ReviewType: di.ReviewType, Context: rc})

		if err := e.audit.Append(audit.KindReviewStarted, map[string]any{
			"workflow_id": st.WorkflowID,
			"item_id":     di.ID,
			"review_type": di.ReviewType,
		}); err != nil {
			e.logger.Warn("audit review start failed", "error", err)
		}
		e.pub.Publish(events.NewEvent(events.EventReviewDispatched, st.WorkflowID, events.ReviewUpdate{
			ItemID:     di.ID,
			ReviewType: di.ReviewType,
		}))
	}
	return e.router.DispatchAll(ctx, reqs)
}
