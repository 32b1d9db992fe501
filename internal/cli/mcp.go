package cli

import (
	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/mcp"
)

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the read-only report queries as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewServer(a.uc.Report, Version).Run(cmd.Context())
		},
	}
}
