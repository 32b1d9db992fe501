package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/api"
	"github.com/DevRickLin/chat-digest/internal/biz/usecase"
)

func newReportsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Read runs and their reports",
	}

	runs := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.uc.Report.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			views := api.NewRunViews(list)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"runs": views})
			}
			renderRuns(cmd.OutOrStdout(), views)
			return nil
		},
	}
	runs.Flags().IntP("limit", "l", 20, "Max runs")

	run := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show every report and outcome of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, modeQuery)
			if err != nil {
				return err
			}
			defer a.Close()

			rr, err := a.uc.Report.RunReports(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := api.NewRunReportsView(rr)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			titles, err := chatTitles(cmd.Context(), a.uc.Report)
			if err != nil {
				return err
			}
			renderRunReports(cmd.OutOrStdout(), view, titles)
			return nil
		},
	}

	chat := &cobra.Command{
		Use:   "chat <chat-id>",
		Short: "Show a chat's reports for runs whose window starts in a range",
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

			reports, err := a.uc.Report.ChatReports(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			views := api.NewReportViews(reports)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"from": from, "to": to, "reports": views})
			}

			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, idStyle.Render("No reports in range."))
				return nil
			}
			titles, err := chatTitles(cmd.Context(), a.uc.Report)
			if err != nil {
				return err
			}
			for _, r := range views {
				fmt.Fprintln(out, dateStyle.Render("run "+r.RunID))
				renderReport(out, r, titles[r.ChatID])
			}
			return nil
		},
	}
	addRangeFlags(chat)

	send := &cobra.Command{
		Use:   "send <run-id>",
		Short: "Deliver the digest of a closed run to REPORT_TARGET_ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			mode := modeNotify
			if dryRun {
				mode = modeQuery
			}
			a, err := openApp(cmd.Context(), opts, mode)
			if err != nil {
				return err
			}
			defer a.Close()

			digest, err := a.uc.Delivery.BuildRunDigest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				if opts.json {
					return writeJSON(out, api.NewDigestView(digest))
				}
				renderDigest(out, digest)
				return nil
			}

			if err := a.uc.Delivery.Send(cmd.Context(), digest); err != nil {
				return err
			}
			if opts.json {
				return writeJSON(out, map[string]interface{}{"run_id": args[0], "sent": true})
			}
			fmt.Fprintln(out, countStyle.Render("Digest sent to "+a.cfg.Report.TargetID))
			return nil
		},
	}
	send.Flags().Bool("dry-run", false, "Print the digest instead of sending it")

	cmd.AddCommand(runs, run, chat, send)
	return cmd
}

func newUsageCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show summarizer token usage per UTC day",
		Args:  cobra.NoArgs,
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

			usage, err := a.uc.Report.TokenUsage(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			views := api.NewUsageViews(usage)
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"from": from, "to": to, "usage": views})
			}
			renderUsage(cmd.OutOrStdout(), views)
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Range start, RFC 3339 or YYYY-MM-DD (default 7 days ago)")
	cmd.Flags().String("to", "", "Range end, exclusive (default tomorrow)")
}

func rangeFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	return usecase.ResolveRange(from, to, time.Now())
}

func chatTitles(ctx context.Context, reports *usecase.ReportUsecase) (map[string]string, error) {
	chats, err := reports.ListChats(ctx, false)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(chats))
	for _, c := range chats {
		titles[c.ChatID] = c.Title
	}
	return titles, nil
}
