package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/paths"
	"github.com/wardenhq/warden/internal/util"
)

// starterWorkflow seeds a new repository with a small but complete
// definition covering each gate kind.
const starterWorkflow = `# warden workflow definition
name: default
version: "1"

settings:
  supervision_mode: supervised
  test_command: "make test"
  build_command: "make build"
  review:
    required_reviews: []
    minimum_required: 0
    on_insufficient: block

phases:
  - id: plan
    name: Plan
    items:
      - id: plan_file
        name: Written plan
        required: true
        verification:
          type: artifact
          path: docs/plan.md
          validator: not_empty

  - id: execute
    name: Execute
    items:
      - id: implementation
        name: Implementation done
        required: true
      - id: build_passes
        name: Build passes
        required: true
        verification:
          type: command
          argv: ["{{build_command}}"]
          timeout_s: 300

  - id: verify
    name: Verify
    items:
      - id: tests_pass
        name: Tests pass
        required: true
        verification:
          type: command
          argv: ["{{test_command}}"]
          timeout_s: 600
      - id: signoff
        name: Human signoff
        required: true
        skippable: true
        risk: high
        verification:
          type: manual
          rationale_required: true
`

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize warden in the current repository",
		Long: `Create the .orchestrator/ containment directory and, if the repo
has none, a starter workflow.yaml.

Existing files are never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			root, err := paths.FindRepoRoot(cwd)
			if err != nil {
				// Not a repo yet: initialize right here, the marker
				// files we create make it one.
				root = cwd
			}

			contain := filepath.Join(root, paths.ContainDir)
			if err := os.MkdirAll(contain, 0755); err != nil {
				return fmt.Errorf("create %s: %w", paths.ContainDir, err)
			}

			wf := filepath.Join(root, "workflow.yaml")
			if _, err := os.Stat(wf); os.IsNotExist(err) {
				if err := util.AtomicWriteFile(wf, []byte(starterWorkflow), 0644); err != nil {
					return err
				}
				sayf("Created workflow.yaml")
			} else {
				sayf("workflow.yaml already exists, keeping it")
			}

			cfg := filepath.Join(contain, config.ConfigFileName+".yaml")
			if _, err := os.Stat(cfg); os.IsNotExist(err) {
				content := "# warden settings (override workflow.yaml defaults here)\n# supervision_mode: supervised\n"
				if err := util.AtomicWriteFile(cfg, []byte(content), 0644); err != nil {
					return err
				}
				sayf("Created %s/config.yaml", paths.ContainDir)
			}

			sayf("\nInitialized. Next: warden start \"<your task>\"")
			return nil
		},
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show warden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("warden version " + config.ToolVersion)
		},
	}
}
