package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/storage"
)

// newEventsCmd creates the events command
func newEventsCmd() *cobra.Command {
	var (
		since    time.Duration
		types    []string
		limit    int
		workflow string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the session event log",
		Long: `Query workflow events through the per-session SQLite index.

The JSONL log stays authoritative; the index is rebuilt from it on every
query, so it can always be deleted safely.

Examples:
  warden events --since 1h
  warden events --type item_completed --type item_failed --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			idx, err := storage.Open(a.paths.IndexFile())
			if err != nil {
				return err
			}
			defer idx.Close()

			if _, err := idx.Rebuild(a.paths.LogFile()); err != nil {
				return err
			}

			opts := storage.QueryOptions{WorkflowID: workflow, Limit: limit}
			if since > 0 {
				opts.Since = time.Now().UTC().Add(-since)
			}
			for _, t := range types {
				opts.Types = append(opts.Types, events.EventType(t))
			}
			rows, err := idx.Query(opts)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(rows)
			}
			if len(rows) == 0 {
				sayf("No matching events.")
				return nil
			}
			for _, r := range rows {
				fmt.Printf("%s  %-20s %s  %s\n",
					r.Time.Format(time.RFC3339), r.Type, r.WorkflowID, string(r.Data))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this age (e.g. 30m, 2h)")
	cmd.Flags().StringArrayVar(&types, "type", nil, "filter by event type (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to print")
	cmd.Flags().StringVar(&workflow, "workflow", "", "filter by workflow id")
	return cmd
}
