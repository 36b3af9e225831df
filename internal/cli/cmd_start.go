package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/engine"
)

// newStartCmd creates the start command
func newStartCmd() *cobra.Command {
	var constraints []string

	cmd := &cobra.Command{
		Use:   "start <task>",
		Short: "Start a new workflow",
		Long: `Start a new workflow for the given task in the current session.

A session holds at most one active workflow; finish or abandon the
current one first, or create a fresh session with 'warden sessions new'.

Examples:
  warden start "Fix login timeout"
  warden start "Add rate limiting" --constraint "no new dependencies"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			task := strings.Join(args, " ")
			st, err := a.engine.Start(task, constraints)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(map[string]any{
					"workflow_id": st.WorkflowID,
					"share_hash":  engine.ShareHash(st.WorkflowID, a.settings.SaltEnvVar),
					"session":     a.paths.SessionID(),
					"phase":       st.ActivePhase().ID,
				})
			}
			sayf("Started %s (session %s)", st.WorkflowID, a.paths.SessionID())
			sayf("Active phase: %s", st.ActivePhase().ID)
			sayf("\nNext: warden status")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "constraint recorded with the workflow (repeatable)")
	return cmd
}
