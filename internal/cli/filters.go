package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/biz/domain"
)

func newFiltersCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Manage the chat classification rules",
		Long: `Rules decide which chats are work chats. Precedence is deny_chat, then
allow_chat, then keyword (case-insensitive substring of the title or recent text).`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "add <allow_chat|deny_chat|keyword> <value>",
			Short:   "Add a rule",
			Args:    cobra.ExactArgs(2),
			Example: "  chat-digest filters add keyword contract\n  chat-digest filters add deny_chat oc_123",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context(), opts, modeQuery)
				if err != nil {
					return err
				}
				defer a.Close()

				f, err := a.uc.Filter.AddFilter(cmd.Context(), domain.FilterKind(args[0]), args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s=%s\n", countStyle.Render("added"), f.Kind, f.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <allow_chat|deny_chat|keyword> <value>",
			Short: "Remove a rule",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context(), opts, modeQuery)
				if err != nil {
					return err
				}
				defer a.Close()

				removed, err := a.uc.Filter.RemoveFilter(cmd.Context(), domain.FilterKind(args[0]), args[1])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no %s rule with value %q", args[0], args[1])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s=%s\n", countStyle.Render("removed"), args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List rules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context(), opts, modeQuery)
				if err != nil {
					return err
				}
				defer a.Close()

				filters, err := a.uc.Filter.ListFilters(cmd.Context())
				if err != nil {
					return err
				}
				if opts.json {
					type filterView struct {
						Kind  string `json:"kind"`
						Value string `json:"value"`
					}
					views := make([]filterView, 0, len(filters))
					for _, f := range filters {
						views = append(views, filterView{Kind: string(f.Kind), Value: f.Value})
					}
					return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"filters": views})
				}
				renderFilters(cmd.OutOrStdout(), filters)
				return nil
			},
		},
	)
	return cmd
}
