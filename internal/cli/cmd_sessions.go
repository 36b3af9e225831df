package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newSessionsCmd creates the sessions command group
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage workflow sessions",
		Long: `Manage sessions. Each session holds its own workflow state, event
log, audit log, and checkpoints under .orchestrator/sessions/<id>/.`,
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsNewCmd())
	cmd.AddCommand(newSessionsUseCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadAppRepoOnly()
			if err != nil {
				return err
			}
			infos, err := a.sessions.List()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(infos)
			}
			if len(infos) == 0 {
				sayf("No sessions yet. Create one with 'warden sessions new'.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tCREATED\tCURRENT")
			for _, info := range infos {
				current := ""
				if info.Current {
					current = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Meta.CreatedAt, current)
			}
			return w.Flush()
		},
	}
}

func newSessionsNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a session and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadAppRepoOnly()
			if err != nil {
				return err
			}
			id, err := a.sessions.Create()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]string{"session": id})
			}
			sayf("Session %s created and selected", id)
			return nil
		},
	}
}

func newSessionsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Switch the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadAppRepoOnly()
			if err != nil {
				return err
			}
			if err := a.sessions.SetCurrent(args[0]); err != nil {
				return err
			}
			if jsonOut {
				return printJSON(map[string]string{"session": args[0]})
			}
			sayf("Switched to session %s", args[0])
			return nil
		},
	}
}
