package cli

import (
	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/api"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every complete window that is due, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, modePipeline)
			if err != nil {
				return err
			}
			defer a.Close()

			summaries, runErr := a.uc.Run.RunDue(cmd.Context())

			out := cmd.OutOrStdout()
			if opts.json {
				runs := make([]api.RunView, 0, len(summaries))
				for _, s := range summaries {
					runs = append(runs, api.NewRunView(s.Run))
				}
				if err := writeJSON(out, map[string]interface{}{"runs": runs}); err != nil {
					return err
				}
			} else {
				renderRunSummaries(out, summaries)
			}
			return runErr
		},
	}
}
