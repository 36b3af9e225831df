package cli

import (
	"github.com/spf13/cobra"
)

// newReviewCmd creates the review command
func newReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Run every pending review in the active phase",
		Long: `Dispatch all unsettled review items of the active phase at once.

Each review type goes to its configured model chain; results are applied
to the items exactly as 'warden complete' would, one at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true)
			if err != nil {
				return err
			}
			_, results, err := a.engine.ReviewPhase(cmd.Context())
			if jsonOut {
				if perr := printJSON(results); perr != nil {
					return perr
				}
				return err
			}
			if len(results) == 0 && err == nil {
				sayf("No pending reviews in the active phase")
				return nil
			}
			for _, res := range results {
				switch {
				case res.Success:
					sayf("%s: passed (%s)", res.ReviewType, res.Model)
				case res.ErrorType != "":
					warnf("%s: failed (%s)", res.ReviewType, res.ErrorType)
				default:
					warnf("%s: failed", res.ReviewType)
				}
			}
			return err
		},
	}
}
