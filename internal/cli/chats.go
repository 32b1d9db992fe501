package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/api"
)

func newChatsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Inspect known chats",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List chats with their work flag and ingestion state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, _ := cmd.Flags().GetBool("active")

			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			chats, err := a.uc.Report.ListChats(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			views := api.NewChatViews(chats)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"chats": views})
			}
			renderChats(cmd.OutOrStdout(), views)
			return nil
		},
	}
	list.Flags().Bool("active", false, "Only chats that are still ingested")

	reinstate := &cobra.Command{
		Use:   "reinstate <chat-id>",
		Short: "Resume ingestion of a chat deactivated by a permanent platform error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.uc.Filter.ReinstateChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", countStyle.Render("reinstated"), args[0])
			return nil
		},
	}

	messages := &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Show stored messages of a chat in a time range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := rangeFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			msgs, err := a.uc.Report.ChatMessages(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			views := api.NewMessageViews(msgs)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"from": from, "to": to, "messages": views})
			}
			renderMessages(cmd.OutOrStdout(), args[0], views)
			return nil
		},
	}
	addRangeFlags(messages)

	cmd.AddCommand(list, reinstate, messages)
	return cmd
}
