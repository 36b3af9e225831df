package engine

import (
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/review"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/workflow"
)

// Advance moves the cursor to the next phase once every required item is
// completed or skipped and, for review phases, quorum is met. Advancing
// past the last phase completes the workflow.
func (e *Engine) Advance() (*state.WorkflowState, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var (
		st       *state.WorkflowState
		from, to string
		warning  string
		finished bool
	)
	err := e.withState(lock.Exclusive, func() error {
		loaded, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return werrors.ErrAlreadyTerminal(loaded.WorkflowID)
		}
		ps := loaded.ActivePhase()
		if ps == nil {
			return werrors.ErrAtTerminal()
		}
		pd := e.def.Phase(ps.ID)
		if pd == nil {
			return werrors.ErrDefInvalid("active phase " + ps.ID + " is not in the workflow definition")
		}

		// Quorum-gated review items are judged here, not by the blocker
		// check: a failed required review is a threshold decision, and
		// under on_insufficient=warn it settles as completed with a
		// warning so the phase can proceed.
		gated := e.quorumGated(pd)
		if gated != nil {
			d := review.EvaluateQuorum(e.settings.Review, reviewOutcomes(pd, ps))
			if !d.Met {
				if e.settings.Review.OnInsufficient != config.InsufficientWarn {
					return werrors.ErrReviewThreshold(d.Succeeded, d.Required)
				}
				warning = quorumWarning(d)
				settleUnmetReviews(pd, ps, gated, warning)
			}
		}
		if blocked := blockers(pd, ps, gated); len(blocked) > 0 {
			return werrors.ErrPhaseIncomplete(ps.ID, blocked)
		}

		from = ps.ID
		ps.Status = state.StatusCompleted
		ps.CompletedAt = now()
		loaded.PhaseCursor++

		if next := loaded.ActivePhase(); next != nil {
			next.Status = state.StatusInProgress
			next.StartedAt = now()
			to = next.ID
		} else {
			loaded.Status = state.WorkflowCompleted
			finished = true
		}
		loaded.Touch()
		if err := state.Save(loaded, e.paths.StateFile()); err != nil {
			return err
		}
		st = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if warning != "" {
		if err := e.audit.Append(audit.KindReviewCompleted, map[string]any{
			"workflow_id": st.WorkflowID,
			"phase":       from,
			"warning":     warning,
		}); err != nil {
			e.logger.Warn("audit quorum warning failed", "error", err)
		}
		e.pub.Publish(events.NewEvent(events.EventWarning, st.WorkflowID, events.WarningData{Message: warning}))
	}

	if finished {
		if err := e.audit.Append(audit.KindWorkflowFinish, map[string]any{
			"workflow_id": st.WorkflowID,
			"status":      string(state.WorkflowCompleted),
		}); err != nil {
			return nil, err
		}
		e.pub.Publish(events.NewEvent(events.EventWorkflowFinished, st.WorkflowID, map[string]any{
			"status": string(state.WorkflowCompleted),
		}))
		return st, nil
	}

	if err := e.audit.Append(audit.KindPhaseTransition, map[string]any{
		"workflow_id": st.WorkflowID,
		"from":        from,
		"to":          to,
	}); err != nil {
		return nil, err
	}
	e.pub.Publish(events.NewEvent(events.EventPhaseAdvanced, st.WorkflowID, events.PhaseUpdate{From: from, To: to}))
	return st, nil
}

// settleUnmetReviews completes the phase's unsettled quorum-gated
// review items with the warning recorded as their note.
func settleUnmetReviews(pd *workflow.PhaseDef, ps *state.PhaseState, gated map[string]bool, warning string) {
	for _, di := range pd.Items {
		if di.ReviewType == "" || !gated[di.ReviewType] {
			continue
		}
		is := ps.Item(di.ID)
		if is == nil || is.Status == state.StatusCompleted || is.Status == state.StatusSkipped {
			continue
		}
		is.Status = state.StatusCompleted
		is.CompletedAt = now()
		is.Notes = warning
	}
}

// reviewOutcomes maps the phase's review items onto settled results for
// quorum evaluation. A review type succeeds when its item completed.
func reviewOutcomes(pd *workflow.PhaseDef, ps *state.PhaseState) map[string]*review.Result {
	results := make(map[string]*review.Result)
	for _, di := range pd.Items {
		if di.ReviewType == "" {
			continue
		}
		if prev, ok := results[di.ReviewType]; ok && prev.Success {
			continue
		}
		res := &review.Result{ReviewType: di.ReviewType}
		if is := ps.Item(di.ID); is != nil && is.Status == state.StatusCompleted {
			res.Success = true
		}
		results[di.ReviewType] = res
	}
	return results
}

func quorumWarning(d review.QuorumDecision) string {
	msg := "review quorum not met, proceeding per on_insufficient=warn"
	for _, rt := range d.Failed {
		msg += "; " + rt + " did not succeed"
	}
	return msg
}

// Finish closes the workflow. Without abandon it requires every phase to
// be complete; with abandon it records the abandonment regardless.
func (e *Engine) Finish(abandon bool) (*state.WorkflowState, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var st *state.WorkflowState
	err := e.withState(lock.Exclusive, func() error {
		loaded, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if loaded.IsTerminal() {
			return werrors.ErrAlreadyTerminal(loaded.WorkflowID)
		}
		if !abandon {
			if ps := loaded.ActivePhase(); ps != nil {
				pd := e.def.Phase(ps.ID)
				blocked := []string{ps.ID}
				if pd != nil {
					if b := blockers(pd, ps, e.quorumGated(pd)); len(b) > 0 {
						blocked = b
					}
				}
				return werrors.ErrPhaseIncomplete(ps.ID, blocked)
			}
		}
		if abandon {
			loaded.Status = state.WorkflowAbandoned
		} else {
			loaded.Status = state.WorkflowCompleted
		}
		loaded.Touch()
		if err := state.Save(loaded, e.paths.StateFile()); err != nil {
			return err
		}
		st = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.audit.Append(audit.KindWorkflowFinish, map[string]any{
		"workflow_id": st.WorkflowID,
		"status":      string(st.Status),
	}); err != nil {
		return nil, err
	}
	e.pub.Publish(events.NewEvent(events.EventWorkflowFinished, st.WorkflowID, map[string]any{
		"status": string(st.Status),
	}))
	return st, nil
}
