package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/workflow"
)

func TestStarterWorkflowParses(t *testing.T) {
	def, err := workflow.Parse([]byte(starterWorkflow))
	require.NoError(t, err)
	assert.Equal(t, "default", def.Name)
	require.Len(t, def.Phases, 3)
	assert.NotNil(t, def.Phase("verify").Item("signoff").Verification)
}

func TestLoadDefinitionUsesWorkflowFile(t *testing.T) {
	root := t.TempDir()
	doc := `name: custom
phases:
  - id: only
    items:
      - id: thing
        required: true
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "workflow.yaml"), []byte(doc), 0644))

	def, settings, err := loadDefinition(root)
	require.NoError(t, err)
	assert.Equal(t, "custom", def.Name)
	assert.Equal(t, config.SupervisionSupervised, settings.SupervisionMode)
}

func TestLoadDefinitionFallsBackToBuiltin(t *testing.T) {
	def, _, err := loadDefinition(t.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, def.Phases)
}

func TestLoadDefinitionEnvSupervisionWins(t *testing.T) {
	t.Setenv(config.EnvSupervision, string(config.SupervisionZeroHuman))
	_, settings, err := loadDefinition(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.SupervisionZeroHuman, settings.SupervisionMode)
}

func TestNeedsApproval(t *testing.T) {
	def := &workflow.WorkflowDef{Phases: []workflow.PhaseDef{
		{ID: "p", Items: []workflow.ItemDef{
			{ID: "manual", Verification: &workflow.GateDef{Kind: workflow.GateManual}},
			{ID: "nested", Verification: &workflow.GateDef{
				Kind: workflow.GateComposite, Op: workflow.OpAnd,
				Children: []workflow.GateDef{{Kind: workflow.GateManual}},
			}},
			{ID: "cmd", Verification: &workflow.GateDef{Kind: workflow.GateCommand, Argv: []string{"true"}}},
			{ID: "plain"},
		}},
	}}

	assert.True(t, needsApproval(def, "manual"))
	assert.True(t, needsApproval(def, "nested"))
	assert.False(t, needsApproval(def, "cmd"))
	assert.False(t, needsApproval(def, "plain"))
	assert.False(t, needsApproval(def, "missing"))
}
