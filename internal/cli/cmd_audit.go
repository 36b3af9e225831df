package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/audit"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/lock"
)

// newAuditCmd creates the audit command group
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditShowCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		Long: `Recompute every entry hash and check the chain linkage.

A break means an entry was edited or removed after it was written; the
report names the first broken sequence number.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			log := auditLog(a)
			res, err := log.VerifyChain()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(res)
			}
			if res.OK {
				sayf("Audit chain OK (%d entries)", res.Entries)
				return nil
			}
			warnf("Audit chain BROKEN at seq %d: %s", res.BrokenSeq, res.Reason)
			return werrors.ErrAuditTamper(res.BrokenSeq)
		},
	}
}

func newAuditShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			entries, err := auditLog(a).Entries()
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}
			if jsonOut {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%-4d %s  %-20s %v\n", e.Seq, e.TS, e.Kind, e.Data)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "show only the last N entries")
	return cmd
}

func auditLog(a *app) *audit.Log {
	return audit.New(a.paths.AuditFile(), lock.NewManager(a.paths.LocksDir()), a.logger)
}
