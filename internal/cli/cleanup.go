package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete messages and runs past their retention horizon",
		Long: `Deletes messages older than RETENTION_MESSAGES_DAYS and runs (with their reports
and outcomes) older than RETENTION_RUNS_DAYS. A horizon of 0 keeps data forever.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.uc.Retention.Cleanup(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"messages": result.Messages, "runs": result.Runs})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s messages and %s runs\n",
				countStyle.Render(fmt.Sprint(result.Messages)), countStyle.Render(fmt.Sprint(result.Runs)))
			return nil
		},
	}
}
