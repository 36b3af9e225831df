// Package errors provides structured error types for warden.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for warden.
const (
	// Integrity errors
	CodeStateIntegrity Code = "STATE_INTEGRITY"
	CodeStateVersion   Code = "STATE_VERSION"
	CodeAuditTamper    Code = "AUDIT_TAMPER"

	// Concurrency errors
	CodeLockTimeout     Code = "LOCK_TIMEOUT"
	CodeLockPathNotSafe Code = "LOCK_PATH_NOT_SAFE"
	CodeLockCycle       Code = "LOCK_CYCLE"
	CodeSessionConflict Code = "SESSION_CONFLICT"

	// Policy errors
	CodeNotCurrentPhase  Code = "NOT_CURRENT_PHASE"
	CodePhaseIncomplete  Code = "PHASE_INCOMPLETE"
	CodeNotSkippable     Code = "NOT_SKIPPABLE"
	CodeMissingReason    Code = "MISSING_REASON"
	CodeAlreadyTerminal  Code = "ALREADY_TERMINAL"
	CodeAlreadyActive    Code = "ALREADY_ACTIVE"
	CodeAlreadyCompleted Code = "ALREADY_COMPLETED"
	CodeAtTerminal       Code = "AT_TERMINAL"

	// Gate errors
	CodeGateFailed        Code = "GATE_FAILED"
	CodePathTraversal     Code = "PATH_TRAVERSAL"
	CodeUnsafeTemplateArg Code = "UNSAFE_TEMPLATE_ARG"
	CodeGateTimeout       Code = "GATE_TIMEOUT"

	// Review errors
	CodeReviewThreshold Code = "REVIEW_THRESHOLD"

	// Environment errors
	CodeRepoNotFound       Code = "REPO_NOT_FOUND"
	CodeCheckpointNotFound Code = "CHECKPOINT_NOT_FOUND"
	CodeWorkflowNotFound   Code = "WORKFLOW_NOT_FOUND"
	CodeItemNotFound       Code = "ITEM_NOT_FOUND"
	CodeDefInvalid         Code = "DEFINITION_INVALID"
)

// WardenError is the structured error type for warden.
// What carries the single-line headline; Why and Fix carry the
// multi-line remediation hint shown to the user.
type WardenError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *WardenError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *WardenError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *WardenError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (e *WardenError) MarshalJSON() ([]byte, error) {
	type alias WardenError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a WardenError with the same code.
func (e *WardenError) Is(target error) bool {
	t, ok := target.(*WardenError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *WardenError) WithCause(err error) *WardenError {
	return &WardenError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Integrity ---

// ErrStateIntegrity returns an error for a checksum mismatch in a state file.
func ErrStateIntegrity(path string) *WardenError {
	return &WardenError{
		Code: CodeStateIntegrity,
		What: "state file failed integrity verification",
		Why:  fmt.Sprintf("The checksum stored in %s does not match its contents", path),
		Fix:  "The file was modified outside warden. Restore it from a checkpoint with 'warden resume', or inspect it manually",
	}
}

// ErrStateVersion returns an error for an incompatible state file version.
func ErrStateVersion(got, want string) *WardenError {
	return &WardenError{
		Code: CodeStateVersion,
		What: fmt.Sprintf("state file version %s is not compatible with %s", got, want),
		Why:  "The state file was written by an incompatible warden release",
		Fix:  "Upgrade warden, or start a fresh session with 'warden sessions new'",
	}
}

// ErrAuditTamper returns an error for a broken audit chain.
func ErrAuditTamper(seq int64) *WardenError {
	return &WardenError{
		Code: CodeAuditTamper,
		What: fmt.Sprintf("audit chain verification failed at sequence %d", seq),
		Why:  "An audit entry's hash no longer matches its recorded chain link",
		Fix:  "Run 'warden audit verify' for a full report. The audit log is append-only and should never be edited",
	}
}

// --- Concurrency ---

// ErrLockTimeout returns an error when a lock cannot be acquired in time.
func ErrLockTimeout(name string, timeout string) *WardenError {
	return &WardenError{
		Code: CodeLockTimeout,
		What: fmt.Sprintf("timed out acquiring %q lock after %s", name, timeout),
		Why:  "Another warden process holds the lock for this session",
		Fix:  "Wait for the other operation to finish, or check for a stuck process holding the lock file",
	}
}

// ErrLockPathNotSafe returns an error when a lock path is a symlink.
func ErrLockPathNotSafe(path string) *WardenError {
	return &WardenError{
		Code: CodeLockPathNotSafe,
		What: fmt.Sprintf("refusing to lock through symlink %s", path),
		Why:  "Lock files must be regular files inside the session directory",
		Fix:  "Remove the symlink and retry",
	}
}

// ErrLockCycle returns an error when locks are acquired out of canonical order.
func ErrLockCycle(held, requested string) *WardenError {
	return &WardenError{
		Code: CodeLockCycle,
		What: fmt.Sprintf("lock order violation: %q requested while holding %q", requested, held),
		Why:  "Locks must be acquired in the canonical order migration, state, audit, checkpoint",
		Fix:  "This is a bug in the caller; report it with the command you ran",
	}
}

// ErrSessionConflict returns an error when the current-session pointer changed underneath us.
func ErrSessionConflict(why string) *WardenError {
	if why == "" {
		why = "Another warden process switched sessions while this operation was running"
	}
	return &WardenError{
		Code: CodeSessionConflict,
		What: "session selection conflict",
		Why:  why,
		Fix:  "Re-run the command; it will pick up the current session",
	}
}

// --- Policy ---

// ErrNotCurrentPhase returns an error for mutating an item outside the active phase.
func ErrNotCurrentPhase(itemID, phaseID string) *WardenError {
	return &WardenError{
		Code: CodeNotCurrentPhase,
		What: fmt.Sprintf("item %s is not in the active phase", itemID),
		Why:  fmt.Sprintf("The workflow cursor is on phase %s; items in other phases cannot be mutated", phaseID),
		Fix:  "Run 'warden status' to see the active phase, and 'warden advance' when it is complete",
	}
}

// ErrPhaseIncomplete returns an error when Advance is blocked by incomplete items.
func ErrPhaseIncomplete(phaseID string, blockers []string) *WardenError {
	return &WardenError{
		Code: CodePhaseIncomplete,
		What: fmt.Sprintf("phase %s is not complete", phaseID),
		Why:  fmt.Sprintf("Blocking items: %s", strings.Join(blockers, ", ")),
		Fix:  "Complete or skip the blocking items, then run 'warden advance' again",
	}
}

// ErrNotSkippable returns an error for skipping a non-skippable item.
func ErrNotSkippable(itemID string) *WardenError {
	return &WardenError{
		Code: CodeNotSkippable,
		What: fmt.Sprintf("item %s cannot be skipped", itemID),
		Why:  "The workflow definition marks this item as required and non-skippable",
		Fix:  "Complete the item, or use the emergency override if this is a genuine emergency (it will be audited)",
	}
}

// ErrMissingReason returns an error for a skip without justification.
func ErrMissingReason(itemID string) *WardenError {
	return &WardenError{
		Code: CodeMissingReason,
		What: fmt.Sprintf("skip of item %s requires a reason", itemID),
		Why:  "Skips are recorded in the audit log and must carry a justification",
		Fix:  "Re-run with --reason \"...\"",
	}
}

// ErrAlreadyTerminal returns an error when mutating a finished workflow.
func ErrAlreadyTerminal(workflowID string) *WardenError {
	return &WardenError{
		Code: CodeAlreadyTerminal,
		What: fmt.Sprintf("workflow %s is already finished", workflowID),
		Why:  "Completed or abandoned workflows are immutable",
		Fix:  "Start a new workflow with 'warden start'",
	}
}

// ErrAlreadyActive returns an error when starting over a live workflow.
func ErrAlreadyActive(workflowID string) *WardenError {
	return &WardenError{
		Code: CodeAlreadyActive,
		What: fmt.Sprintf("workflow %s is still active in this session", workflowID),
		Why:  "A session holds at most one non-terminal workflow",
		Fix:  "Finish it with 'warden finish' (or --abandon), or create a new session with 'warden sessions new'",
	}
}

// ErrAlreadyCompleted returns an error for completing an item twice.
func ErrAlreadyCompleted(itemID string) *WardenError {
	return &WardenError{
		Code: CodeAlreadyCompleted,
		What: fmt.Sprintf("item %s is already completed", itemID),
		Why:  "Completing a completed item is a no-op",
	}
}

// ErrAtTerminal returns an error for advancing past the last phase.
func ErrAtTerminal() *WardenError {
	return &WardenError{
		Code: CodeAtTerminal,
		What: "workflow is already at its final phase",
		Why:  "There is no phase to advance to",
		Fix:  "Run 'warden finish' to close out the workflow",
	}
}

// --- Gate ---

// ErrGateFailed returns an error carrying gate failure details.
func ErrGateFailed(itemID string, details []string) *WardenError {
	return &WardenError{
		Code: CodeGateFailed,
		What: fmt.Sprintf("gate for item %s did not pass", itemID),
		Why:  strings.Join(details, "; "),
		Fix:  "Address the failure and run 'warden complete' again",
	}
}

// ErrPathTraversal returns an error for an artifact path escaping its base.
func ErrPathTraversal(path string) *WardenError {
	return &WardenError{
		Code: CodePathTraversal,
		What: fmt.Sprintf("artifact path %s escapes the repository", path),
		Why:  "Gate artifact paths must resolve inside the repository root; '..' segments and escaping symlinks are rejected",
		Fix:  "Fix the path in workflow.yaml",
	}
}

// ErrUnsafeTemplateArg returns an error for an unsafe template substitution.
func ErrUnsafeTemplateArg(variable, value string) *WardenError {
	return &WardenError{
		Code: CodeUnsafeTemplateArg,
		What: fmt.Sprintf("template variable %s has an unsafe value", variable),
		Why:  fmt.Sprintf("Substituted values must match [A-Za-z0-9._/-]+; got %q", value),
		Fix:  "Fix the setting value; shell metacharacters are never passed to gate commands",
	}
}

// ErrGateTimeout returns an error for a gate command exceeding its deadline.
func ErrGateTimeout(itemID string, timeout string) *WardenError {
	return &WardenError{
		Code: CodeGateTimeout,
		What: fmt.Sprintf("gate command for item %s timed out after %s", itemID, timeout),
		Why:  "The child process did not exit within the configured timeout and was killed",
		Fix:  "Increase timeout_s on the gate, or investigate why the command hangs",
	}
}

// --- Review ---

// ErrReviewThreshold returns an error when review quorum is not met.
func ErrReviewThreshold(got, want int) *WardenError {
	return &WardenError{
		Code: CodeReviewThreshold,
		What: fmt.Sprintf("only %d of %d required reviews succeeded", got, want),
		Why:  "Review quorum is enforced before a review phase may advance",
		Fix:  "Re-run the failed reviews, or lower minimum_required in the workflow settings",
	}
}

// --- Environment ---

// ErrRepoNotFound returns an error when no repository root marker is reachable.
func ErrRepoNotFound(base string) *WardenError {
	return &WardenError{
		Code: CodeRepoNotFound,
		What: "no repository root found",
		Why:  fmt.Sprintf("No .git directory or workflow.yaml found walking up from %s", base),
		Fix:  "Run warden inside a git repository, or create a workflow.yaml marker at the project root",
	}
}

// ErrCheckpointNotFound returns an error for a missing checkpoint.
func ErrCheckpointNotFound(id string) *WardenError {
	return &WardenError{
		Code: CodeCheckpointNotFound,
		What: fmt.Sprintf("checkpoint %s not found", id),
		Why:  "No checkpoint file with this ID exists in the session",
		Fix:  "List available checkpoints with 'warden checkpoint --list'",
	}
}

// ErrWorkflowNotFound returns an error when no workflow exists in the session.
func ErrWorkflowNotFound() *WardenError {
	return &WardenError{
		Code: CodeWorkflowNotFound,
		What: "no workflow in this session",
		Why:  "The session has no state file yet",
		Fix:  "Start one with 'warden start \"<task>\"'",
	}
}

// ErrItemNotFound returns an error for an unknown item id.
func ErrItemNotFound(itemID string) *WardenError {
	return &WardenError{
		Code: CodeItemNotFound,
		What: fmt.Sprintf("no item %s in this workflow", itemID),
		Why:  "The item id does not appear in any phase",
		Fix:  "Run 'warden status' to list the items of the active phase",
	}
}

// ErrDefInvalid returns an error for an invalid workflow definition.
func ErrDefInvalid(reason string) *WardenError {
	return &WardenError{
		Code: CodeDefInvalid,
		What: "workflow definition is invalid",
		Why:  reason,
		Fix:  "Fix workflow.yaml and retry",
	}
}

// AsWardenError attempts to convert an error to a WardenError.
// Returns nil if the error is not a WardenError.
func AsWardenError(err error) *WardenError {
	var werr *WardenError
	if As(err, &werr) {
		return werr
	}
	return nil
}

// As is a convenience wrapper for errors.As on WardenError targets.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if werr, ok := err.(*WardenError); ok {
		if t, ok := target.(**WardenError); ok {
			*t = werr
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a WardenError with unknown code.
func Wrap(err error, what string) *WardenError {
	return &WardenError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
