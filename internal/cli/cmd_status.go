package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"st"},
		Short:   "Show the workflow status",
		Long: `Show the active phase, its items, and what blocks advancing.

Examples:
  warden status          # Human-readable overview
  warden status --json   # Machine-readable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			r, err := a.engine.Status()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(r)
			}

			fmt.Printf("Workflow:  %s (%s)\n", r.WorkflowID, r.ShareHash)
			fmt.Printf("Task:      %s\n", r.Task)
			fmt.Printf("Status:    %s\n", r.Status)
			fmt.Printf("Mode:      %s (operator: %s, %s)\n", r.Mode, r.Operator.Mode, r.Operator.Reason)
			if r.FromLegacy {
				fmt.Println("Note:      read from the legacy state file; the next change migrates it")
			}
			if r.Phase == "" {
				fmt.Println("\nAll phases are complete.")
				return nil
			}
			fmt.Printf("Phase:     %s (%d of %d)\n\n", r.Phase, r.PhaseIndex+1, r.PhaseCount)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ITEM\tSTATUS\tREQUIRED\tREVIEW")
			for _, it := range r.Items {
				req := ""
				if it.Required {
					req = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Status, req, it.Review)
			}
			w.Flush()

			if len(r.Blockers) > 0 {
				fmt.Printf("\nBlocking advance: %s\n", strings.Join(r.Blockers, ", "))
			}
			if r.NextItem != "" {
				fmt.Printf("Next: warden complete %s\n", r.NextItem)
			}
			return nil
		},
	}
}
