package main

import (
	"fmt"
	"strings"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/store"
	"github.com/spf13/cobra"
)

func newAckCmd(a *app) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   "ack <anomaly-id>",
		Short: "Acknowledge an anomaly; repeating it keeps the first acknowledgement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(by) == "" {
				return fmt.Errorf("--by is required")
			}
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.AcknowledgeAnomaly(ctx, args[0], strings.TrimSpace(by))
			if err != nil {
				return fmt.Errorf("ack %s: %w", args[0], err)
			}
			printAnomalies(cmd.OutOrStdout(), []domain.AnomalyRecord{*rec})
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "", "reviewer recorded on the anomaly")
	return cmd
}

func newAnomaliesCmd(a *app) *cobra.Command {
	var (
		severity       string
		unacknowledged bool
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "List flagged anomalies, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.AnomalyFilter{UnacknowledgedOnly: unacknowledged, Limit: limit}
			if severity != "" {
				sev, ok := domain.ParseSeverity(strings.ToLower(severity))
				if !ok {
					return fmt.Errorf("invalid --severity %q", severity)
				}
				f.Severity = sev
			}

			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.ListAnomalies(ctx, f)
			if err != nil {
				return err
			}
			printAnomalies(cmd.OutOrStdout(), recs)
			return nil
		},
	}

	cmd.Flags().StringVar(&severity, "severity", "", "only this severity (high, medium, low, minimal)")
	cmd.Flags().BoolVar(&unacknowledged, "unacknowledged", false, "hide acknowledged anomalies")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows, 0 for all")
	return cmd
}

func newSummaryCmd(a *app) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show record counts and the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sum, err := s.Summary(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := newTable(out)
			fmt.Fprintf(tw, "Transactions:\t%d\n", sum.Transactions)
			fmt.Fprintf(tw, "Anomalies:\t%d\n", sum.Anomalies)
			fmt.Fprintf(tw, "Unacknowledged:\t%d\n", sum.UnacknowledgedAnomaly)
			fmt.Fprintf(tw, "Forecasts:\t%d\n", sum.Forecasts)
			fmt.Fprintf(tw, "Runs:\t%d\n", sum.Runs)
			tw.Flush()

			if runs <= 0 {
				return nil
			}
			recent, err := s.ListRuns(ctx, runs)
			if err != nil {
				return err
			}
			ptrs := make([]*domain.RunRecord, len(recent))
			for i := range recent {
				ptrs[i] = &recent[i]
			}
			fmt.Fprintln(out)
			printRuns(out, ptrs)
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to show")
	return cmd
}
