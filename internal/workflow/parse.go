package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/config"
	werrors "github.com/wardenhq/warden/internal/errors"
)

// KnownReviewTypes are the review categories the router understands.
// required_reviews entries and item review_type fields must come from
// this set.
var KnownReviewTypes = []string{"security", "quality", "consistency", "holistic"}

// Parse decodes and validates a workflow definition document.
func Parse(data []byte) (*WorkflowDef, error) {
	return ParseWithDefaults(data, config.DefaultSettings())
}

// ParseWithDefaults decodes a definition over a seed settings value, so
// repo or user configuration supplies what the document leaves unset.
func ParseWithDefaults(data []byte, base config.Settings) (*WorkflowDef, error) {
	def := WorkflowDef{Settings: base}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, werrors.ErrDefInvalid(fmt.Sprintf("parse workflow definition: %v", err))
	}
	applyDefaults(&def)
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses a workflow definition from disk.
func LoadFile(path string) (*WorkflowDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadFileWithDefaults is LoadFile with a seed settings value.
func LoadFileWithDefaults(path string, base config.Settings) (*WorkflowDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	def, err := ParseWithDefaults(data, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func applyDefaults(def *WorkflowDef) {
	for i := range def.Phases {
		phase := &def.Phases[i]
		if phase.PhaseType == "" {
			phase.PhaseType = PhaseStrict
		}
		for j := range phase.Items {
			item := &phase.Items[j]
			if item.Risk == "" {
				item.Risk = RiskMedium
			}
			if item.Verification != nil {
				applyGateDefaults(item.Verification)
			}
		}
	}
}

func applyGateDefaults(g *GateDef) {
	switch g.Kind {
	case GateArtifact:
		if g.Validator == "" {
			g.Validator = ValidatorNotEmpty
		}
	case GateCommand:
		if g.TimeoutS == 0 {
			g.TimeoutS = DefaultCommandTimeoutS
		}
	case GateComposite:
		for i := range g.Children {
			applyGateDefaults(&g.Children[i])
		}
	}
}

// Validate checks structural invariants: unique ids, known gate kinds
// and validators, known review types, coherent settings.
func Validate(def *WorkflowDef) error {
	if len(def.Phases) == 0 {
		return werrors.ErrDefInvalid("workflow has no phases")
	}
	if err := def.Settings.Validate(); err != nil {
		return err
	}

	known := make(map[string]bool, len(KnownReviewTypes))
	for _, t := range KnownReviewTypes {
		known[t] = true
	}
	for _, t := range def.Settings.Review.RequiredReviews {
		if !known[t] {
			return werrors.ErrDefInvalid(fmt.Sprintf("required_reviews names unknown review type %q", t))
		}
	}
	for t := range def.Settings.Review.FallbackChains {
		if !known[t] {
			return werrors.ErrDefInvalid(fmt.Sprintf("fallback_chains names unknown review type %q", t))
		}
	}

	phaseIDs := make(map[string]bool, len(def.Phases))
	for i := range def.Phases {
		phase := &def.Phases[i]
		if phase.ID == "" {
			return werrors.ErrDefInvalid(fmt.Sprintf("phase %d has no id", i))
		}
		if phaseIDs[phase.ID] {
			return werrors.ErrDefInvalid(fmt.Sprintf("duplicate phase id %q", phase.ID))
		}
		phaseIDs[phase.ID] = true
		if !phase.PhaseType.IsValid() {
			return werrors.ErrDefInvalid(fmt.Sprintf("phase %q: unknown phase_type %q", phase.ID, phase.PhaseType))
		}

		itemIDs := make(map[string]bool, len(phase.Items))
		for j := range phase.Items {
			item := &phase.Items[j]
			if item.ID == "" {
				return werrors.ErrDefInvalid(fmt.Sprintf("phase %q: item %d has no id", phase.ID, j))
			}
			if itemIDs[item.ID] {
				return werrors.ErrDefInvalid(fmt.Sprintf("phase %q: duplicate item id %q", phase.ID, item.ID))
			}
			itemIDs[item.ID] = true
			if !item.Risk.IsValid() {
				return werrors.ErrDefInvalid(fmt.Sprintf("item %q: unknown risk %q", item.ID, item.Risk))
			}
			if item.ReviewType != "" && !known[item.ReviewType] {
				return werrors.ErrDefInvalid(fmt.Sprintf("item %q: unknown review type %q", item.ID, item.ReviewType))
			}
			if item.Verification != nil {
				if err := validateGate(item.ID, item.Verification); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateGate(itemID string, g *GateDef) error {
	switch g.Kind {
	case GateArtifact:
		if g.Path == "" {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: artifact gate has no path", itemID))
		}
		if !g.Validator.IsValid() {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: unknown validator %q", itemID, g.Validator))
		}
		if g.Validator == ValidatorMinSize && g.MinSize <= 0 {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: min_size validator needs min_size > 0", itemID))
		}
	case GateCommand:
		if len(g.Argv) == 0 {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: command gate has empty argv", itemID))
		}
	case GateManual:
		// No structural requirements.
	case GateComposite:
		if g.Op != OpAnd && g.Op != OpOr {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: composite gate has unknown op %q", itemID, g.Op))
		}
		if len(g.Children) == 0 {
			return werrors.ErrDefInvalid(fmt.Sprintf("item %q: composite gate has no children", itemID))
		}
		for i := range g.Children {
			if err := validateGate(itemID, &g.Children[i]); err != nil {
				return err
			}
		}
	default:
		return werrors.ErrDefInvalid(fmt.Sprintf("item %q: unknown gate type %q", itemID, g.Kind))
	}
	return nil
}
