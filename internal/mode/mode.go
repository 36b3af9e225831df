// Package mode classifies the operator driving warden (human vs
// autonomous agent) and applies the supervision policy that decides
// whether manual gates block or auto-pass.
package mode

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/workflow"
)

// Operator is who is driving the session.
type Operator string

const (
	OperatorHuman      Operator = "human"
	OperatorAutonomous Operator = "autonomous"
)

// Detection is the classified operator with how sure we are and why.
type Detection struct {
	Mode       Operator `json:"mode"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`

	// Overridden is set when the emergency-override sentinel forced the
	// result. Overrides widen what Skip may do and are always audited.
	Overridden bool `json:"overridden,omitempty"`
}

// Detector classifies the operator. The zero value is not usable; use
// NewDetector, which wires the real environment and terminal probes.
type Detector struct {
	explicit string
	getenv   func(string) string
	stdinTTY func() bool
}

// NewDetector builds a detector. explicit is the configured
// operator_mode and wins over environment heuristics (but not over the
// emergency override).
func NewDetector(explicit string) *Detector {
	return &Detector{
		explicit: explicit,
		getenv:   os.Getenv,
		stdinTTY: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
	}
}

// Detect classifies the operator. Priority: emergency override, explicit
// configuration, agent environment markers, terminal attachment.
func (d *Detector) Detect() Detection {
	if d.getenv(config.EnvEmergencyOverride) == config.OverrideSentinel {
		return Detection{
			Mode:       OperatorHuman,
			Confidence: 1.0,
			Reason:     "emergency override sentinel is set",
			Overridden: true,
		}
	}
	if d.explicit != "" {
		return Detection{
			Mode:       Operator(d.explicit),
			Confidence: 1.0,
			Reason:     "operator_mode set in configuration",
		}
	}
	for _, name := range config.AgentEnvVars {
		if d.getenv(name) != "" {
			return Detection{
				Mode:       OperatorAutonomous,
				Confidence: 0.9,
				Reason:     fmt.Sprintf("agent environment variable %s is set", name),
			}
		}
	}
	if !d.stdinTTY() {
		return Detection{
			Mode:       OperatorAutonomous,
			Confidence: 0.6,
			Reason:     "stdin is not a terminal",
		}
	}
	return Detection{
		Mode:       OperatorHuman,
		Confidence: 0.8,
		Reason:     "interactive terminal",
	}
}

// Markers recorded on bypassed manual gates.
const (
	ZeroHumanMarker = "[ZERO-HUMAN MODE]"
	HybridMarker    = "[HYBRID MODE]"
)

// Policy applies the configured supervision mode to manual gates.
type Policy struct {
	mode      config.SupervisionMode
	detection Detection
	breaking  bool
}

// NewPolicy builds a supervision policy. The breaking-change signal is
// read from the environment once at construction.
func NewPolicy(mode config.SupervisionMode, det Detection) *Policy {
	if mode == "" {
		mode = config.SupervisionSupervised
	}
	return &Policy{
		mode:      mode,
		detection: det,
		breaking:  os.Getenv(config.EnvBreakingChange) != "",
	}
}

// Mode returns the supervision mode in force.
func (p *Policy) Mode() config.SupervisionMode { return p.mode }

// Detection returns the operator classification the policy was built with.
func (p *Policy) Detection() Detection { return p.detection }

// AutoPass reports whether a manual gate may pass without approval, and
// the marker to record when it does.
func (p *Policy) AutoPass(risk workflow.Risk) (bool, string) {
	switch p.mode {
	case config.SupervisionZeroHuman:
		return true, ZeroHumanMarker
	case config.SupervisionHybrid:
		if p.breaking {
			return false, ""
		}
		if risk == workflow.RiskLow || risk == workflow.RiskMedium {
			return true, HybridMarker
		}
	}
	return false, ""
}

// AllowSkipOverride reports whether non-skippable items may be skipped.
// Only the audited emergency override grants this.
func (p *Policy) AllowSkipOverride() bool {
	return p.detection.Overridden
}
