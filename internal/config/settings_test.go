package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, SupervisionSupervised, s.SupervisionMode)
	assert.Empty(t, s.Review.RequiredReviews)
	assert.Equal(t, InsufficientBlock, s.Review.OnInsufficient)
	assert.Equal(t, 2, s.Review.MaxFallbackAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(s *Settings) {}, false},
		{"bad supervision mode", func(s *Settings) { s.SupervisionMode = "turbo" }, true},
		{"bad on_insufficient", func(s *Settings) { s.Review.OnInsufficient = "panic" }, true},
		{"quorum exceeds reviews", func(s *Settings) {
			s.Review.RequiredReviews = []string{"security"}
			s.Review.MinimumRequired = 2
		}, true},
		{"empty review type", func(s *Settings) {
			s.Review.RequiredReviews = []string{"security", " "}
		}, true},
		{"valid quorum", func(s *Settings) {
			s.Review.RequiredReviews = []string{"security", "quality"}
			s.Review.MinimumRequired = 1
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromRepo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".orchestrator"), 0755))
	cfg := `supervision_mode: zero_human
test_command: go test ./...
review:
  required_reviews: [security, quality]
  minimum_required: 1
  on_insufficient: warn
  fallback_chains:
    security: [model-b, model-c]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".orchestrator", "config.yaml"), []byte(cfg), 0644))

	s, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, SupervisionZeroHuman, s.SupervisionMode)
	assert.Equal(t, "go test ./...", s.TestCommand)
	assert.Equal(t, []string{"security", "quality"}, s.Review.RequiredReviews)
	assert.Equal(t, 1, s.Review.MinimumRequired)
	assert.Equal(t, InsufficientWarn, s.Review.OnInsufficient)
	assert.Equal(t, []string{"model-b", "model-c"}, s.Review.FallbackChains["security"])
	// Defaults survive partial config
	assert.Equal(t, 2, s.Review.MaxFallbackAttempts)
}

func TestLoadMissingConfig(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SupervisionSupervised, s.SupervisionMode)
}

func TestSupervisionEnvOverride(t *testing.T) {
	t.Setenv(EnvSupervision, "hybrid")
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, SupervisionHybrid, s.SupervisionMode)
}

func TestTemplateVars(t *testing.T) {
	s := DefaultSettings()
	s.TestCommand = "go test ./..."
	vars := s.TemplateVars()
	assert.Equal(t, "go test ./...", vars["test_command"])
	assert.Contains(t, vars, "build_command")
}
