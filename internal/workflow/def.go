// Package workflow defines the static workflow document: phases, items,
// and the gates that guard item completion. Definitions are loaded from
// YAML and validated once at load time; unknown gate kinds or validators
// are rejected here, never at evaluation time.
package workflow

import (
	"github.com/wardenhq/warden/internal/config"
)

// PhaseType controls how tightly a phase is enforced.
type PhaseType string

const (
	PhaseStrict     PhaseType = "strict"
	PhaseGuided     PhaseType = "guided"
	PhaseAutonomous PhaseType = "autonomous"
)

// IsValid reports whether the phase type is one of the known values.
func (p PhaseType) IsValid() bool {
	switch p {
	case PhaseStrict, PhaseGuided, PhaseAutonomous:
		return true
	}
	return false
}

// Risk classifies how dangerous it is to auto-approve an item.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// IsValid reports whether the risk level is one of the known values.
func (r Risk) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// GateKind tags the gate variant.
type GateKind string

const (
	GateArtifact  GateKind = "artifact"
	GateCommand   GateKind = "command"
	GateManual    GateKind = "manual"
	GateComposite GateKind = "composite"
)

// Validator names an artifact check.
type Validator string

const (
	ValidatorExists    Validator = "exists"
	ValidatorNotEmpty  Validator = "not_empty"
	ValidatorMinSize   Validator = "min_size"
	ValidatorJSONValid Validator = "json_valid"
	ValidatorYAMLValid Validator = "yaml_valid"
)

// IsValid reports whether the validator is one of the known checks.
func (v Validator) IsValid() bool {
	switch v {
	case ValidatorExists, ValidatorNotEmpty, ValidatorMinSize, ValidatorJSONValid, ValidatorYAMLValid:
		return true
	}
	return false
}

// CompositeOp combines child gate results.
type CompositeOp string

const (
	OpAnd CompositeOp = "and"
	OpOr  CompositeOp = "or"
)

// DefaultCommandTimeout is applied when a command gate does not set one.
const DefaultCommandTimeoutS = 60

// GateDef is a tagged gate variant. Kind selects which field group is
// meaningful; Parse rejects definitions that mix groups incoherently.
type GateDef struct {
	Kind GateKind `yaml:"type"`

	// artifact
	Path      string    `yaml:"path,omitempty"`
	Validator Validator `yaml:"validator,omitempty"`
	MinSize   int64     `yaml:"min_size,omitempty"`
	BasePath  string    `yaml:"base_path,omitempty"`

	// command
	Argv           []string          `yaml:"argv,omitempty"`
	ExpectExitCode int               `yaml:"expect_exit_code,omitempty"`
	TimeoutS       int               `yaml:"timeout_s,omitempty"`
	Stdin          string            `yaml:"stdin,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`

	// manual
	RationaleRequired bool `yaml:"rationale_required,omitempty"`

	// composite
	Op       CompositeOp `yaml:"op,omitempty"`
	Children []GateDef   `yaml:"children,omitempty"`
}

// ItemDef is one tracked unit of work inside a phase.
type ItemDef struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Required     bool     `yaml:"required"`
	Skippable    bool     `yaml:"skippable"`
	Risk         Risk     `yaml:"risk,omitempty"`
	ReviewType   string   `yaml:"review_type,omitempty"`
	Verification *GateDef `yaml:"verification,omitempty"`
	Notes        []string `yaml:"notes,omitempty"`
}

// PhaseDef is an ordered group of items.
type PhaseDef struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name,omitempty"`
	Description   string    `yaml:"description,omitempty"`
	PhaseType     PhaseType `yaml:"phase_type,omitempty"`
	IntendedTools []string  `yaml:"intended_tools,omitempty"`
	Notes         []string  `yaml:"notes,omitempty"`
	Items         []ItemDef `yaml:"items"`
}

// Item returns the item with the given id, or nil.
func (p *PhaseDef) Item(id string) *ItemDef {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i]
		}
	}
	return nil
}

// HasReviews reports whether any item in the phase carries a review type.
func (p *PhaseDef) HasReviews() bool {
	for i := range p.Items {
		if p.Items[i].ReviewType != "" {
			return true
		}
	}
	return false
}

// WorkflowDef is the full static workflow document.
type WorkflowDef struct {
	Name     string          `yaml:"name"`
	Version  string          `yaml:"version,omitempty"`
	Settings config.Settings `yaml:"settings"`
	Phases   []PhaseDef      `yaml:"phases"`
}

// Phase returns the phase with the given id, or nil.
func (d *WorkflowDef) Phase(id string) *PhaseDef {
	for i := range d.Phases {
		if d.Phases[i].ID == id {
			return &d.Phases[i]
		}
	}
	return nil
}

// FindItem returns the phase and item for an item id, or nils.
func (d *WorkflowDef) FindItem(itemID string) (*PhaseDef, *ItemDef) {
	for i := range d.Phases {
		if item := d.Phases[i].Item(itemID); item != nil {
			return &d.Phases[i], item
		}
	}
	return nil, nil
}
