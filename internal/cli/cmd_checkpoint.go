package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newCheckpointCmd creates the checkpoint command
func newCheckpointCmd() *cobra.Command {
	var (
		decisions []string
		summary   string
		list      bool
	)

	cmd := &cobra.Command{
		Use:     "checkpoint [label]",
		Aliases: []string{"cp"},
		Short:   "Snapshot the workflow state",
		Long: `Create a restorable snapshot of the workflow state.

Checkpoints chain: each records its predecessor, so 'warden resume' can
walk back through the session's history.

Examples:
  warden checkpoint "before refactor" --decision "keep the v1 API"
  warden checkpoint --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				a, err := loadApp(false)
				if err != nil {
					return err
				}
				ids, err := a.engine.ListCheckpoints()
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(ids)
				}
				if len(ids) == 0 {
					sayf("No checkpoints yet.")
					return nil
				}
				fmt.Println(strings.Join(ids, "\n"))
				return nil
			}

			a, err := loadApp(true)
			if err != nil {
				return err
			}
			label := ""
			if len(args) > 0 {
				label = args[0]
			}
			id, err := a.engine.Checkpoint(label, decisions, summary)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]string{"checkpoint_id": id})
			}
			sayf("Checkpoint %s created", id)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&decisions, "decision", nil, "decision recorded with the checkpoint (repeatable)")
	cmd.Flags().StringVar(&summary, "summary", "", "context summary stored in the checkpoint")
	cmd.Flags().BoolVar(&list, "list", false, "list checkpoints instead of creating one")
	return cmd
}

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Restore the workflow from a checkpoint",
		Long: `Replace the session's workflow state with a checkpoint's snapshot.

The restore is recorded in the audit log so the rollback stays visible.

Examples:
  warden resume cp-1724500000000-9f3a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			st, err := a.engine.Resume(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]any{
					"workflow_id":  st.WorkflowID,
					"phase_cursor": st.PhaseCursor,
				})
			}
			sayf("Restored %s from %s", st.WorkflowID, args[0])
			return nil
		},
	}
}
