package cli

import (
	"github.com/spf13/cobra"
)

// newSkipCmd creates the skip command
func newSkipCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "skip <item>",
		Short: "Skip an item with a recorded reason",
		Long: `Skip an item. The reason is mandatory and lands in the audit log.

Non-skippable items refuse unless the emergency override environment
variable is set, and that override is itself audited.

Examples:
  warden skip design_notes --reason "covered by the RFC"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			st, err := a.engine.Skip(args[0], reason)
			if err != nil {
				return err
			}
			if jsonOut {
				_, is := st.FindItem(args[0])
				return printJSON(is)
			}
			sayf("Skipped %s: %s", args[0], reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the item is being skipped (required)")
	return cmd
}

// newAdvanceCmd creates the advance command
func newAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Advance to the next phase",
		Long: `Advance the workflow to the next phase.

Requires every required item in the active phase to be completed or
skipped; review phases additionally require their quorum. Advancing past
the final phase completes the workflow.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			st, err := a.engine.Advance()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{
					"status":       st.Status,
					"phase_cursor": st.PhaseCursor,
				})
			}
			if ps := st.ActivePhase(); ps != nil {
				sayf("Advanced to phase %s (%d of %d)", ps.ID, st.PhaseCursor+1, len(st.Phases))
			} else {
				sayf("Workflow %s completed", st.WorkflowID)
			}
			return nil
		},
	}
}

// newFinishCmd creates the finish command
func newFinishCmd() *cobra.Command {
	var abandon bool

	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Finish or abandon the workflow",
		Long: `Close out the workflow.

Without flags this requires every phase to be complete. With --abandon
the workflow is closed as abandoned regardless of progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			st, err := a.engine.Finish(abandon)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{"workflow_id": st.WorkflowID, "status": st.Status})
			}
			sayf("Workflow %s is now %s", st.WorkflowID, st.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&abandon, "abandon", false, "abandon instead of completing")
	return cmd
}
