package config

// Environment variables recognized by warden. These are the only process
// environment inputs the core consults; everything else flows through the
// settings file.
const (
	// EnvEmergencyOverride temporarily promotes the operator to human mode
	// and allows Skip on non-skippable items. It takes effect only when set
	// to exactly OverrideSentinel; any other value is treated as unset.
	// Every use is audited.
	EnvEmergencyOverride = "WARDEN_EMERGENCY_OVERRIDE"

	// OverrideSentinel is the required literal value of EnvEmergencyOverride.
	OverrideSentinel = "i-understand-the-risks"

	// EnvIDSalt salts the deterministic share-hash of workflow IDs used in
	// shareable telemetry. A built-in fallback salt applies when unset.
	EnvIDSalt = "WARDEN_ID_SALT"

	// EnvAgent marks the process as running under an autonomous agent.
	EnvAgent = "WARDEN_AGENT"

	// EnvSupervision overrides the supervision mode from the environment.
	EnvSupervision = "WARDEN_SUPERVISION"

	// EnvReviewCmd names the external command the review router shells out
	// to. Reviews are unavailable when unset.
	EnvReviewCmd = "WARDEN_REVIEW_CMD"

	// EnvBreakingChange, when set to any non-empty value, marks the current
	// task as a breaking change. Hybrid supervision then refuses to
	// auto-pass manual gates regardless of item risk.
	EnvBreakingChange = "WARDEN_BREAKING_CHANGE"
)

// AgentEnvVars are environment variables whose presence signals an
// autonomous agent environment, checked in order.
var AgentEnvVars = []string{EnvAgent, "CLAUDECODE"}

// DefaultIDSalt is used when EnvIDSalt is unset.
const DefaultIDSalt = "warden-v1"

// ToolVersion is stamped into session metadata and checkpoint files.
const ToolVersion = "0.1.0-dev"
