package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/audit"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/review"
	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/util"
	"github.com/wardenhq/warden/internal/workflow"
)

// CompleteOptions carry the operator's inputs for one completion.
type CompleteOptions struct {
	Notes     string
	Approved  bool   // explicit approval for a manual gate
	Rationale string // justification recorded alongside the approval
}

// Complete marks an item done after its verification passes. Gate
// commands and review calls run with no lock held: the engine validates
// under the lock, releases it for the (possibly slow) execution, then
// reacquires and re-validates before applying the result. A failing gate
// leaves the item failed with retry_count incremented.
func (e *Engine) Complete(ctx context.Context, itemID string, opts CompleteOptions) (*state.WorkflowState, error) {
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var (
		snapshot *state.WorkflowState
		defItem  *workflow.ItemDef
		defPhase *workflow.PhaseDef
	)
	err := e.withState(lock.Exclusive, func() error {
		st, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if err := validateMutable(st, itemID); err != nil {
			return err
		}
		_, is := st.FindItem(itemID)
		if is.Status != state.StatusInProgress {
			is.Status = state.StatusInProgress
			st.Touch()
			if err := state.Save(st, e.paths.StateFile()); err != nil {
				return err
			}
		}
		snapshot = st.Clone()
		defPhase, defItem = e.def.FindItem(itemID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Execution happens here, lock-free. Another process may mutate the
	// state meanwhile; the apply pass below re-validates.
	var (
		rec       *state.GateRecord
		revResult *review.Result
		gateErr   *werrors.WardenError
	)
	switch {
	case defItem != nil && defItem.ReviewType != "":
		revResult = e.dispatchReview(ctx, defItem, defPhase, snapshot)
	case defItem != nil && defItem.Verification != nil:
		rec, err = e.gates.Evaluate(ctx, defItem.Verification, gate.Input{
			ItemID:    itemID,
			Risk:      defItem.Risk,
			Approved:  opts.Approved,
			Rationale: opts.Rationale,
		})
		if err != nil {
			// Timeouts and traversal faults still count as a failed
			// evaluation against the item; their codes survive in the
			// returned error.
			werr := werrors.AsWardenError(err)
			if werr == nil || (werr.Code != werrors.CodeGateTimeout && werr.Code != werrors.CodePathTraversal) {
				return nil, err
			}
			gateErr = werr
			rec = &state.GateRecord{Passed: false, Details: []string{werr.What}}
		}
	}

	var (
		applied *state.WorkflowState
		outcome error
	)
	err = e.withState(lock.Exclusive, func() error {
		st, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if err := validateMutable(st, itemID); err != nil {
			return err
		}
		_, is := st.FindItem(itemID)

		switch {
		case revResult != nil:
			outcome = e.applyReview(is, defItem, revResult, opts.Notes)
		case rec != nil:
			outcome = e.applyGate(is, rec, opts.Notes)
			if outcome != nil && gateErr != nil {
				outcome = gateErr
			}
		default:
			e.markCompleted(is, opts.Notes)
		}
		st.Touch()
		if err := state.Save(st, e.paths.StateFile()); err != nil {
			return err
		}
		applied = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordCompletion(applied, itemID, rec, revResult)
	if outcome != nil {
		return applied, outcome
	}
	return applied, nil
}

// validateMutable checks the shared preconditions of Complete and Skip.
func validateMutable(st *state.WorkflowState, itemID string) error {
	if st.IsTerminal() {
		return werrors.ErrAlreadyTerminal(st.WorkflowID)
	}
	ps, is := st.FindItem(itemID)
	if is == nil {
		return werrors.ErrItemNotFound(itemID)
	}
	active := st.ActivePhase()
	if active == nil || ps.ID != active.ID {
		activeID := ""
		if active != nil {
			activeID = active.ID
		}
		return werrors.ErrNotCurrentPhase(itemID, activeID)
	}
	if is.Status == state.StatusCompleted {
		return werrors.ErrAlreadyCompleted(itemID)
	}
	return nil
}

func (e *Engine) markCompleted(is *state.ItemState, notes string) {
	is.Status = state.StatusCompleted
	is.CompletedAt = now()
	is.CompletedBy = string(e.policy.Detection().Mode)
	if notes != "" {
		is.Notes = notes
	}
}

// applyGate writes a gate result to the item. Pass completes it; fail
// marks it failed and bumps the retry counter.
func (e *Engine) applyGate(is *state.ItemState, rec *state.GateRecord, notes string) error {
	is.GateResult = rec
	if rec.Passed {
		e.markCompleted(is, notes)
		return nil
	}
	is.Status = state.StatusFailed
	is.RetryCount++
	return werrors.ErrGateFailed(is.ID, rec.Details)
}

// applyReview writes a settled review to the item.
func (e *Engine) applyReview(is *state.ItemState, di *workflow.ItemDef, res *review.Result, notes string) error {
	meta := &state.ReviewMetadata{
		ReviewType:     di.ReviewType,
		ModelUsed:      res.Model,
		WasFallback:    res.WasFallback,
		FallbackReason: res.FallbackReason,
		FallbacksTried: res.FallbacksTried,
		ErrorType:      string(res.ErrorType),
	}
	if res.RawOutput != "" {
		if ref := e.storeRawOutput(is.ID, di.ReviewType, res.RawOutput); ref != "" {
			meta.RawOutputRef = ref
		}
	}
	is.ReviewMetadata = meta

	if res.Success {
		e.markCompleted(is, notes)
		return nil
	}
	is.Status = state.StatusFailed
	is.RetryCount++
	details := []string{fmt.Sprintf("%s review failed", di.ReviewType)}
	if res.ErrorType != "" {
		details = append(details, "error_type: "+string(res.ErrorType))
	}
	if res.FallbackReason != "" {
		details = append(details, res.FallbackReason)
	}
	for _, f := range res.Findings {
		details = append(details, findingLine(f))
	}
	return werrors.ErrGateFailed(is.ID, details)
}

func findingLine(f review.Finding) string {
	var b strings.Builder
	if f.Severity != "" {
		b.WriteString(f.Severity)
		b.WriteString(": ")
	}
	b.WriteString(f.Message)
	if f.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", f.File, f.Line)
	}
	return b.String()
}

// storeRawOutput drops the model's raw response into the feedback
// directory and returns its basename. Best-effort; a failed write only
// loses the reference.
func (e *Engine) storeRawOutput(itemID, reviewType, raw string) string {
	name := fmt.Sprintf("%s-%s.json", itemID, reviewType)
	path := filepath.Join(e.paths.FeedbackDir(), name)
	if err := util.AtomicWriteFile(path, []byte(raw), 0644); err != nil {
		e.logger.Warn("store review output failed", "path", path, "error", err)
		return ""
	}
	return name
}

// dispatchReview runs one external review for an item.
func (e *Engine) dispatchReview(ctx context.Context, di *workflow.ItemDef, pd *workflow.PhaseDef, st *state.WorkflowState) *review.Result {
	if e.router == nil {
		return &review.Result{
			ReviewType:     di.ReviewType,
			Success:        false,
			ErrorType:      review.ErrorKeyMissing,
			FallbackReason: "no review executor configured",
		}
	}
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

	var notes []string
	if pd != nil {
		notes = pd.Notes
	}
	return e.router.Dispatch(ctx, review.Request{
		ReviewType: di.ReviewType,
		Context: review.Context{
			Task:        st.Task,
			Constraints: st.Constraints,
			PhaseNotes:  notes,
		},
	})
}

// recordCompletion emits the audit records and events for a settled
// Complete. Exactly one gate record is written: pass, fail, or bypass.
func (e *Engine) recordCompletion(st *state.WorkflowState, itemID string, rec *state.GateRecord, res *review.Result) {
	_, is := st.FindItem(itemID)
	if is == nil {
		return
	}
	phase := ""
	if ps := st.ActivePhase(); ps != nil {
		phase = ps.ID
	}

	if rec != nil {
		kind := audit.KindGateFail
		switch {
		case rec.Bypassed:
			kind = audit.KindGateBypass
		case rec.Passed:
			kind = audit.KindGatePass
		}
		if err := e.audit.Append(kind, map[string]any{
			"workflow_id": st.WorkflowID,
			"item_id":     itemID,
			"details":     strings.Join(rec.Details, "; "),
		}); err != nil {
			e.logger.Warn("audit gate result failed", "error", err)
		}
		e.pub.Publish(events.NewEvent(events.EventGateEvaluated, st.WorkflowID, events.ItemUpdate{
			ItemID:  itemID,
			Phase:   phase,
			Status:  string(is.Status),
			Details: rec.Details,
		}))
	}
	if res != nil {
		if err := e.audit.Append(audit.KindReviewCompleted, map[string]any{
			"workflow_id": st.WorkflowID,
			"item_id":     itemID,
			"review_type": res.ReviewType,
			"success":     res.Success,
			"model":       res.Model,
			"error_type":  string(res.ErrorType),
		}); err != nil {
			e.logger.Warn("audit review result failed", "error", err)
		}
		e.pub.Publish(events.NewEvent(events.EventReviewSettled, st.WorkflowID, events.ReviewUpdate{
			ItemID:      itemID,
			ReviewType:  res.ReviewType,
			Model:       res.Model,
			WasFallback: res.WasFallback,
			ErrorType:   string(res.ErrorType),
			Success:     res.Success,
		}))
	}

	if is.Status == state.StatusCompleted {
		if err := e.audit.Append(audit.KindItemComplete, map[string]any{
			"workflow_id": st.WorkflowID,
			"item_id":     itemID,
			"phase":       phase,
		}); err != nil {
			e.logger.Warn("audit item complete failed", "error", err)
		}
		e.pub.Publish(events.NewEvent(events.EventItemCompleted, st.WorkflowID, events.ItemUpdate{
			ItemID: itemID,
			Phase:  phase,
			Status: string(state.StatusCompleted),
		}))
	} else if is.Status == state.StatusFailed {
		e.pub.Publish(events.NewEvent(events.EventItemFailed, st.WorkflowID, events.ItemUpdate{
			ItemID: itemID,
			Phase:  phase,
			Status: string(state.StatusFailed),
		}))
	}
}

// Skip marks an item skipped with a recorded reason. Non-skippable items
// require the audited emergency override.
func (e *Engine) Skip(itemID, reason string) (*state.WorkflowState, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, werrors.ErrMissingReason(itemID)
	}
	if err := e.paths.EnsureSessionDir(); err != nil {
		return nil, err
	}
	e.auditModeDetected()

	var (
		st         *state.WorkflowState
		overridden bool
	)
	err := e.withState(lock.Exclusive, func() error {
		loaded, _, err := state.LoadForSession(e.paths)
		if err != nil {
			return err
		}
		if err := validateMutable(loaded, itemID); err != nil {
			return err
		}
		_, is := loaded.FindItem(itemID)
		if is.Status == state.StatusSkipped {
			st = loaded
			return nil
		}
		_, di := e.def.FindItem(itemID)
		if di != nil && !di.Skippable {
			if !e.policy.AllowSkipOverride() {
				return werrors.ErrNotSkippable(itemID)
			}
			overridden = true
		}
		is.Status = state.StatusSkipped
		is.SkipReason = reason
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

	if overridden {
		if err := e.audit.Append(audit.KindEmergencyOverride, map[string]any{
			"workflow_id": st.WorkflowID,
			"item_id":     itemID,
			"reason":      reason,
		}); err != nil {
			return nil, err
		}
	}
	if err := e.audit.Append(audit.KindItemSkip, map[string]any{
		"workflow_id": st.WorkflowID,
		"item_id":     itemID,
		"reason":      reason,
	}); err != nil {
		return nil, err
	}
	phase := ""
	if ps := st.ActivePhase(); ps != nil {
		phase = ps.ID
	}
	e.pub.Publish(events.NewEvent(events.EventItemSkipped, st.WorkflowID, events.ItemUpdate{
		ItemID: itemID,
		Phase:  phase,
		Status: string(state.StatusSkipped),
		Reason: reason,
	}))
	return st, nil
}
