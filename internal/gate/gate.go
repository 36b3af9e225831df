// Package gate evaluates item verification gates: artifact checks,
// command execution, manual approval, and composites. Evaluation never
// mutates workflow state; it may read the filesystem and exec processes.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/internal/state"
	"github.com/wardenhq/warden/internal/workflow"
)

// ManualPolicy decides whether a manual gate may auto-pass for an item
// of the given risk. When it may, the returned marker is recorded in
// the gate details and audited as a bypass.
type ManualPolicy interface {
	AutoPass(risk workflow.Risk) (ok bool, marker string)
}

// Input carries the per-evaluation context a gate may consult.
type Input struct {
	ItemID    string
	Risk      workflow.Risk
	Approved  bool   // an explicit approval accompanies this evaluation
	Rationale string // operator rationale, required by some manual gates
}

// Engine evaluates gate definitions against a repo.
type Engine struct {
	baseDir string
	vars    map[string]string
	policy  ManualPolicy
	logger  *slog.Logger
}

// New creates a gate engine rooted at baseDir. vars are the template
// substitution variables available to command gates; policy may be nil,
// in which case manual gates never auto-pass.
func New(baseDir string, vars map[string]string, policy ManualPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{baseDir: baseDir, vars: vars, policy: policy, logger: logger}
}

// Evaluate runs one gate and returns its result. A failing gate is a
// result with Passed=false, not an error; errors carry their own codes
// and are reserved for definition faults (unsafe template arguments,
// paths that statically escape the base) and command timeouts.
func (e *Engine) Evaluate(ctx context.Context, g *workflow.GateDef, in Input) (*state.GateRecord, error) {
	switch g.Kind {
	case workflow.GateArtifact:
		return e.evalArtifact(g)
	case workflow.GateCommand:
		return e.evalCommand(ctx, g, in)
	case workflow.GateManual:
		return e.evalManual(g, in), nil
	case workflow.GateComposite:
		return e.evalComposite(ctx, g, in)
	default:
		// Parse rejects unknown kinds; this is a safety net for gates
		// constructed in code.
		return nil, fmt.Errorf("unknown gate kind %q", g.Kind)
	}
}

func (e *Engine) evalManual(g *workflow.GateDef, in Input) *state.GateRecord {
	if e.policy != nil {
		if ok, marker := e.policy.AutoPass(in.Risk); ok {
			e.logger.Warn("manual gate auto-passed", "item", in.ItemID, "marker", marker)
			return &state.GateRecord{
				Passed:   true,
				Details:  []string{marker + " gate bypassed"},
				Bypassed: true,
			}
		}
	}
	if !in.Approved {
		return &state.GateRecord{
			Passed:  false,
			Details: []string{fmt.Sprintf("manual approval required for %s", in.ItemID)},
		}
	}
	if g.RationaleRequired && in.Rationale == "" {
		return &state.GateRecord{
			Passed:  false,
			Details: []string{"approval rationale is required"},
		}
	}
	detail := "approved"
	if in.Rationale != "" {
		detail = "approved: " + in.Rationale
	}
	return &state.GateRecord{Passed: true, Details: []string{detail}}
}

func (e *Engine) evalComposite(ctx context.Context, g *workflow.GateDef, in Input) (*state.GateRecord, error) {
	combined := &state.GateRecord{Passed: g.Op == workflow.OpAnd}
	for i := range g.Children {
		res, err := e.Evaluate(ctx, &g.Children[i], in)
		if err != nil {
			return nil, err
		}
		combined.Details = append(combined.Details, res.Details...)
		if res.ExitCode != nil {
			combined.ExitCode = res.ExitCode
		}
		if res.ArtifactPath != "" {
			combined.ArtifactPath = res.ArtifactPath
		}
		switch g.Op {
		case workflow.OpAnd:
			if !res.Passed {
				combined.Passed = false
				return combined, nil
			}
		case workflow.OpOr:
			if res.Passed {
				combined.Passed = true
				return combined, nil
			}
		}
	}
	return combined, nil
}
