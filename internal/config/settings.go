// Package config provides settings loading and environment handling for warden.
package config

import (
	"fmt"
	"strings"
)

// SupervisionMode determines whether manual gates block or auto-pass.
type SupervisionMode string

const (
	// SupervisionSupervised blocks manual gates until explicit approval (default).
	SupervisionSupervised SupervisionMode = "supervised"
	// SupervisionZeroHuman auto-passes manual gates and records the bypass.
	SupervisionZeroHuman SupervisionMode = "zero_human"
	// SupervisionHybrid auto-passes only low and medium risk items.
	SupervisionHybrid SupervisionMode = "hybrid"
)

// IsValid returns true if the mode is a recognized value.
func (m SupervisionMode) IsValid() bool {
	switch m {
	case SupervisionSupervised, SupervisionZeroHuman, SupervisionHybrid:
		return true
	default:
		return false
	}
}

// OnInsufficient selects behavior when review quorum is not met.
type OnInsufficient string

const (
	// InsufficientWarn marks the item completed with a warning audit record.
	InsufficientWarn OnInsufficient = "warn"
	// InsufficientBlock fails the item and refuses Advance.
	InsufficientBlock OnInsufficient = "block"
)

// ReviewSettings configures external review routing and quorum.
type ReviewSettings struct {
	// RequiredReviews lists the review types a review phase must run.
	RequiredReviews []string `yaml:"required_reviews" mapstructure:"required_reviews"`

	// MinimumRequired is the quorum: how many of RequiredReviews must succeed.
	MinimumRequired int `yaml:"minimum_required" mapstructure:"minimum_required"`

	// FallbackChains maps review type to the ordered list of fallback models
	// tried after transient failures of the primary.
	FallbackChains map[string][]string `yaml:"fallback_chains,omitempty" mapstructure:"fallback_chains"`

	// OnInsufficient selects warn or block behavior on a failed quorum.
	OnInsufficient OnInsufficient `yaml:"on_insufficient" mapstructure:"on_insufficient"`

	// MaxFallbackAttempts caps how many fallback models are tried per review.
	MaxFallbackAttempts int `yaml:"max_fallback_attempts" mapstructure:"max_fallback_attempts"`
}

// Settings holds the workflow-level configuration consulted at run time.
type Settings struct {
	SupervisionMode  SupervisionMode `yaml:"supervision_mode" mapstructure:"supervision_mode"`
	OperatorMode     string          `yaml:"operator_mode,omitempty" mapstructure:"operator_mode"`
	TestCommand      string          `yaml:"test_command,omitempty" mapstructure:"test_command"`
	SmokeTestCommand string          `yaml:"smoke_test_command,omitempty" mapstructure:"smoke_test_command"`
	BuildCommand     string          `yaml:"build_command,omitempty" mapstructure:"build_command"`
	Review           ReviewSettings  `yaml:"review" mapstructure:"review"`
	SaltEnvVar       string          `yaml:"salt_env_var,omitempty" mapstructure:"salt_env_var"`
}

// DefaultSettings returns the settings applied when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		SupervisionMode: SupervisionSupervised,
		Review: ReviewSettings{
			// The default review set is deliberately empty; quorum only
			// applies once reviews are configured explicitly.
			RequiredReviews:     nil,
			MinimumRequired:     0,
			OnInsufficient:      InsufficientBlock,
			MaxFallbackAttempts: 2,
		},
		SaltEnvVar: EnvIDSalt,
	}
}

// Validate checks settings for invalid values.
func (s *Settings) Validate() error {
	if s.SupervisionMode != "" && !s.SupervisionMode.IsValid() {
		return fmt.Errorf("invalid supervision_mode %q", s.SupervisionMode)
	}
	switch s.OperatorMode {
	case "", "human", "autonomous":
	default:
		return fmt.Errorf("invalid operator_mode %q", s.OperatorMode)
	}
	switch s.Review.OnInsufficient {
	case "", InsufficientWarn, InsufficientBlock:
	default:
		return fmt.Errorf("invalid review.on_insufficient %q", s.Review.OnInsufficient)
	}
	if s.Review.MinimumRequired > len(s.Review.RequiredReviews) {
		return fmt.Errorf("review.minimum_required %d exceeds %d configured review types",
			s.Review.MinimumRequired, len(s.Review.RequiredReviews))
	}
	for _, rt := range s.Review.RequiredReviews {
		if strings.TrimSpace(rt) == "" {
			return fmt.Errorf("review.required_reviews contains an empty entry")
		}
	}
	return nil
}

// TemplateVars returns the substitution variables available to gate
// commands, keyed by the name used inside {{...}}.
func (s *Settings) TemplateVars() map[string]string {
	return map[string]string{
		"test_command":       s.TestCommand,
		"smoke_test_command": s.SmokeTestCommand,
		"build_command":      s.BuildCommand,
	}
}
