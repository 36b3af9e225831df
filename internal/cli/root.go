// Package cli implements the warden command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	werrors "github.com/wardenhq/warden/internal/errors"
)

var (
	verbose     bool
	quiet       bool
	jsonOut     bool
	sessionFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Workflow enforcement for AI coding agents",
	Long: `warden enforces a phased development workflow: items are completed
through verification gates, phases advance only when their required items
are done, and every decision lands in a tamper-evident audit log.

Quick start:
  warden init                  Seed .orchestrator/ and a starter workflow.yaml
  warden start "Fix the bug"   Begin a workflow in the current session
  warden status                Show the active phase and its items
  warden complete <item>       Run an item's gate and mark it done
  warden advance               Move to the next phase`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Structured errors print their remediation hint;
// anything else prints as-is. The caller maps a non-nil return to exit 1.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		if werr := werrors.AsWardenError(err); werr != nil {
			fmt.Fprintln(os.Stderr, werr.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session id (default: the current session)")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCompleteCmd())
	rootCmd.AddCommand(newSkipCmd())
	rootCmd.AddCommand(newReviewCmd())
	rootCmd.AddCommand(newAdvanceCmd())
	rootCmd.AddCommand(newFinishCmd())
	rootCmd.AddCommand(newCheckpointCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initLogging routes slog to stderr at a level matching the flags.
func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
