package workflow

import "github.com/wardenhq/warden/internal/config"

// Builtin returns the default five-phase workflow used when a repo has
// no workflow.yaml. It is valid by construction; Validate is still run
// in tests to keep it honest.
func Builtin() *WorkflowDef {
	return &WorkflowDef{
		Name:     "default",
		Version:  "1",
		Settings: config.DefaultSettings(),
		Phases: []PhaseDef{
			{
				ID:        "plan",
				Name:      "Plan",
				PhaseType: PhaseStrict,
				Items: []ItemDef{
					{
						ID:        "plan_file",
						Name:      "Write the plan",
						Required:  true,
						Skippable: false,
						Risk:      RiskMedium,
						Verification: &GateDef{
							Kind:      GateArtifact,
							Path:      "docs/plan.md",
							Validator: ValidatorNotEmpty,
						},
					},
					{
						ID:        "design_notes",
						Name:      "Record design decisions",
						Required:  false,
						Skippable: true,
						Risk:      RiskLow,
					},
				},
			},
			{
				ID:        "execute",
				Name:      "Execute",
				PhaseType: PhaseGuided,
				Items: []ItemDef{
					{
						ID:        "implementation",
						Name:      "Implement the change",
						Required:  true,
						Skippable: false,
						Risk:      RiskHigh,
					},
					{
						ID:        "build_passes",
						Name:      "Build succeeds",
						Required:  true,
						Skippable: false,
						Risk:      RiskMedium,
						Verification: &GateDef{
							Kind:     GateCommand,
							Argv:     []string{"{{build_command}}"},
							TimeoutS: 300,
						},
					},
				},
			},
			{
				ID:        "review",
				Name:      "Review",
				PhaseType: PhaseStrict,
				Items: []ItemDef{
					{
						ID:         "security_review",
						Name:       "Security review",
						Required:   true,
						Skippable:  false,
						Risk:       RiskCritical,
						ReviewType: "security",
					},
					{
						ID:         "quality_review",
						Name:       "Quality review",
						Required:   false,
						Skippable:  true,
						Risk:       RiskMedium,
						ReviewType: "quality",
					},
				},
			},
			{
				ID:        "verify",
				Name:      "Verify",
				PhaseType: PhaseStrict,
				Items: []ItemDef{
					{
						ID:        "tests_pass",
						Name:      "Test suite passes",
						Required:  true,
						Skippable: false,
						Risk:      RiskHigh,
						Verification: &GateDef{
							Kind:     GateCommand,
							Argv:     []string{"{{test_command}}"},
							TimeoutS: 600,
						},
					},
					{
						ID:        "human_signoff",
						Name:      "Final sign-off",
						Required:  true,
						Skippable: true,
						Risk:      RiskHigh,
						Verification: &GateDef{
							Kind:              GateManual,
							RationaleRequired: true,
						},
					},
				},
			},
			{
				ID:        "learn",
				Name:      "Learn",
				PhaseType: PhaseAutonomous,
				Items: []ItemDef{
					{
						ID:        "retrospective",
						Name:      "Capture lessons learned",
						Required:  false,
						Skippable: true,
						Risk:      RiskLow,
					},
				},
			},
		},
	}
}
