// Package state provides the persisted workflow runtime state for warden.
package state

import (
	"time"
)

// Version is the state schema version embedded in every state file.
// Loads reject files whose major version differs.
const Version = "3.0"

// Status represents a phase or item execution status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether an item status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// WorkflowStatus is the lifecycle state of the whole workflow.
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowAbandoned WorkflowStatus = "abandoned"
)

// ReviewMetadata records how an external review was satisfied.
type ReviewMetadata struct {
	ReviewType     string   `json:"review_type"`
	ModelUsed      string   `json:"model_used,omitempty"`
	WasFallback    bool     `json:"was_fallback,omitempty"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	FallbacksTried []string `json:"fallbacks_tried,omitempty"`
	ErrorType      string   `json:"error_type,omitempty"`
	RawOutputRef   string   `json:"raw_output_ref,omitempty"`
}

// GateRecord is the persisted summary of a gate evaluation.
type GateRecord struct {
	Passed       bool     `json:"passed"`
	Details      []string `json:"details,omitempty"`
	ExitCode     *int     `json:"exit_code,omitempty"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	Bypassed     bool     `json:"bypassed,omitempty"`
}

// ItemState tracks one checklist item.
type ItemState struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	SkipReason     string          `json:"skip_reason,omitempty"`
	GateResult     *GateRecord     `json:"gate_result,omitempty"`
	CompletedBy    string          `json:"completed_by,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ReviewMetadata *ReviewMetadata `json:"review_metadata,omitempty"`
}

// PhaseState tracks one phase and its items.
type PhaseState struct {
	ID          string      `json:"id"`
	Status      Status      `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Items       []ItemState `json:"items"`
}

// Item returns the item with the given id, or nil.
func (p *PhaseState) Item(id string) *ItemState {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i]
		}
	}
	return nil
}

// WorkflowState is the persisted authority for one workflow.
//
// The underscore-prefixed fields are reserved: _version and _updated_at are
// stamped on save, and _checksum covers the canonical representation of
// everything except _checksum and _updated_at themselves.
type WorkflowState struct {
	WorkflowID  string         `json:"workflow_id"`
	Task        string         `json:"task"`
	Constraints []string       `json:"constraints,omitempty"`
	Status      WorkflowStatus `json:"status"`
	PhaseCursor int            `json:"phase_cursor"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Phases      []PhaseState   `json:"phases"`

	SchemaVersion string `json:"_version"`
	Checksum      string `json:"_checksum,omitempty"`
	SavedAt       string `json:"_updated_at,omitempty"`
}

// IsTerminal reports whether the workflow reached a final state.
func (s *WorkflowState) IsTerminal() bool {
	return s.Status == WorkflowCompleted || s.Status == WorkflowAbandoned
}

// ActivePhase returns the phase under the cursor, or nil past the end.
func (s *WorkflowState) ActivePhase() *PhaseState {
	if s.PhaseCursor < 0 || s.PhaseCursor >= len(s.Phases) {
		return nil
	}
	return &s.Phases[s.PhaseCursor]
}

// Phase returns the phase with the given id, or nil.
func (s *WorkflowState) Phase(id string) *PhaseState {
	for i := range s.Phases {
		if s.Phases[i].ID == id {
			return &s.Phases[i]
		}
	}
	return nil
}

// FindItem locates an item anywhere in the workflow. Returns the owning
// phase and the item, or nils.
func (s *WorkflowState) FindItem(itemID string) (*PhaseState, *ItemState) {
	for i := range s.Phases {
		if item := s.Phases[i].Item(itemID); item != nil {
			return &s.Phases[i], item
		}
	}
	return nil, nil
}

// Touch updates the mutation timestamp.
func (s *WorkflowState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the state, used for checkpoint snapshots
// and for restoring on failed mutations.
func (s *WorkflowState) Clone() *WorkflowState {
	out := *s
	out.Constraints = append([]string(nil), s.Constraints...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Phases = make([]PhaseState, len(s.Phases))
	for i := range s.Phases {
		p := s.Phases[i]
		cp := p
		cp.Items = make([]ItemState, len(p.Items))
		for j := range p.Items {
			it := p.Items[j]
			ci := it
			if it.GateResult != nil {
				gr := *it.GateResult
				gr.Details = append([]string(nil), it.GateResult.Details...)
				ci.GateResult = &gr
			}
			if it.ReviewMetadata != nil {
				rm := *it.ReviewMetadata
				rm.FallbacksTried = append([]string(nil), it.ReviewMetadata.FallbacksTried...)
				ci.ReviewMetadata = &rm
			}
			cp.Items[j] = ci
		}
		out.Phases[i] = cp
	}
	return &out
}
