package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wardenhq/warden/internal/engine"
	werrors "github.com/wardenhq/warden/internal/errors"
	"github.com/wardenhq/warden/internal/workflow"
)

// newCompleteCmd creates the complete command
func newCompleteCmd() *cobra.Command {
	var (
		notes     string
		approve   bool
		rationale string
	)

	cmd := &cobra.Command{
		Use:     "complete <item>",
		Aliases: []string{"done"},
		Short:   "Complete an item after its gate passes",
		Long: `Run the item's verification gate and mark it completed.

Manual gates need approval: pass --approve (with --rationale where the
gate requires one), or answer the interactive prompt. Without a terminal
the prompt is skipped and the flags are mandatory.

Examples:
  warden complete plan_file
  warden complete signoff --approve --rationale "reviewed the rollout plan"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			itemID := args[0]

			if !approve && needsApproval(a.def, itemID) {
				approve, rationale, err = promptApproval(itemID)
				if err != nil {
					return err
				}
			}

			st, err := a.engine.Complete(cmd.Context(), itemID, engine.CompleteOptions{
				Notes:     notes,
				Approved:  approve,
				Rationale: rationale,
			})
			if err != nil {
				if werr := werrors.AsWardenError(err); werr != nil && werr.Code == werrors.CodeAlreadyCompleted {
					sayf("%s is already completed; nothing to do", itemID)
					return nil
				}
				return err
			}
			_, is := st.FindItem(itemID)

			if jsonOut {
				return printJSON(is)
			}
			sayf("Completed %s", itemID)
			if is != nil && is.GateResult != nil && len(is.GateResult.Details) > 0 {
				sayf("  %s", strings.Join(is.GateResult.Details, "\n  "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "notes recorded with the completion")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve a manual gate")
	cmd.Flags().StringVar(&rationale, "rationale", "", "justification for the approval")
	return cmd
}

// needsApproval reports whether the item is guarded by a manual gate
// that supervised mode would block on.
func needsApproval(def *workflow.WorkflowDef, itemID string) bool {
	_, di := def.FindItem(itemID)
	if di == nil || di.Verification == nil {
		return false
	}
	return hasManualGate(di.Verification)
}

func hasManualGate(g *workflow.GateDef) bool {
	if g.Kind == workflow.GateManual {
		return true
	}
	for i := range g.Children {
		if hasManualGate(&g.Children[i]) {
			return true
		}
	}
	return false
}

// promptApproval asks for approval interactively. Without a terminal it
// fails fast instead of hanging on stdin.
func promptApproval(itemID string) (bool, string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, "", fmt.Errorf(
			"item %s has a manual gate and stdin is not a terminal; re-run with --approve and --rationale", itemID)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Approve %s? [y/N]: ", itemID)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, "", fmt.Errorf("read approval: %w", err)
	}
	if s := strings.ToLower(strings.TrimSpace(answer)); s != "y" && s != "yes" {
		return false, "", nil
	}

	fmt.Print("Rationale (optional): ")
	rationale, err := reader.ReadString('\n')
	if err != nil {
		return false, "", fmt.Errorf("read rationale: %w", err)
	}
	return true, strings.TrimSpace(rationale), nil
}
