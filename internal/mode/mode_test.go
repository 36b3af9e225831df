package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/workflow"
)

func testDetector(explicit string, env map[string]string, tty bool) *Detector {
	return &Detector{
		explicit: explicit,
		getenv:   func(k string) string { return env[k] },
		stdinTTY: func() bool { return tty },
	}
}

func TestDetectPriority(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		tty      bool
		want     Operator
		override bool
	}{
		{
			name:     "override wins over everything",
			explicit: "autonomous",
			env: map[string]string{
				config.EnvEmergencyOverride: config.OverrideSentinel,
				config.EnvAgent:             "1",
			},
			want:     OperatorHuman,
			override: true,
		},
		{
			name: "wrong sentinel value is ignored",
			env:  map[string]string{config.EnvEmergencyOverride: "yes please"},
			tty:  true,
			want: OperatorHuman,
		},
		{
			name:     "explicit config beats env",
			explicit: "human",
			env:      map[string]string{config.EnvAgent: "1"},
			want:     OperatorHuman,
		},
		{
			name: "agent env var",
			env:  map[string]string{"CLAUDECODE": "1"},
			tty:  true,
			want: OperatorAutonomous,
		},
		{
			name: "no tty",
			tty:  false,
			want: OperatorAutonomous,
		},
		{
			name: "interactive terminal",
			tty:  true,
			want: OperatorHuman,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := testDetector(tt.explicit, tt.env, tt.tty).Detect()
			assert.Equal(t, tt.want, det.Mode)
			assert.Equal(t, tt.override, det.Overridden)
			assert.NotEmpty(t, det.Reason)
			assert.Greater(t, det.Confidence, 0.0)
		})
	}
}

func TestPolicySupervised(t *testing.T) {
	p := NewPolicy(config.SupervisionSupervised, Detection{Mode: OperatorHuman})
	for _, r := range []workflow.Risk{workflow.RiskLow, workflow.RiskCritical} {
		ok, _ := p.AutoPass(r)
		assert.False(t, ok)
	}
}

func TestPolicyZeroHuman(t *testing.T) {
	p := NewPolicy(config.SupervisionZeroHuman, Detection{Mode: OperatorAutonomous})
	for _, r := range []workflow.Risk{workflow.RiskLow, workflow.RiskCritical} {
		ok, marker := p.AutoPass(r)
		assert.True(t, ok)
		assert.Equal(t, ZeroHumanMarker, marker)
	}
}

func TestPolicyHybrid(t *testing.T) {
	p := NewPolicy(config.SupervisionHybrid, Detection{})

	ok, marker := p.AutoPass(workflow.RiskLow)
	assert.True(t, ok)
	assert.Equal(t, HybridMarker, marker)

	ok, _ = p.AutoPass(workflow.RiskMedium)
	assert.True(t, ok)

	ok, _ = p.AutoPass(workflow.RiskHigh)
	assert.False(t, ok)

	ok, _ = p.AutoPass(workflow.RiskCritical)
	assert.False(t, ok)
}

func TestPolicyHybridBreakingChange(t *testing.T) {
	t.Setenv(config.EnvBreakingChange, "1")
	p := NewPolicy(config.SupervisionHybrid, Detection{})

	ok, _ := p.AutoPass(workflow.RiskLow)
	assert.False(t, ok)
}

func TestPolicyDefaultsToSupervised(t *testing.T) {
	p := NewPolicy("", Detection{})
	assert.Equal(t, config.SupervisionSupervised, p.Mode())
	ok, _ := p.AutoPass(workflow.RiskLow)
	assert.False(t, ok)
}

func TestAllowSkipOverride(t *testing.T) {
	assert.False(t, NewPolicy("", Detection{}).AllowSkipOverride())
	assert.True(t, NewPolicy("", Detection{Overridden: true}).AllowSkipOverride())
}
