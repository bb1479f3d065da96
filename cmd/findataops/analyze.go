package main

import (
	"errors"
	"fmt"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/source"
	"github.com/spf13/cobra"
)

func newDetectCmd(a *app) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Flag outlier and novel-merchant expenses in the trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			run, recs, err := a.detectStage(s).Run(ctx, day)
			printRuns(cmd.OutOrStdout(), []*domain.RunRecord{run})
			if err == nil && len(recs) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				printAnomalies(cmd.OutOrStdout(), recs)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "last day of the trailing window, YYYY-MM-DD (default today)")
	return cmd
}

func newForecastCmd(a *app) *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project monthly category spend from the complete months before --as-of",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			run, recs, err := a.forecastStage(s).Run(ctx, day)
			printRuns(cmd.OutOrStdout(), []*domain.RunRecord{run})
			if err == nil && len(recs) > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
				printForecasts(cmd.OutOrStdout(), recs)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date, YYYY-MM-DD (default today)")
	return cmd
}

// newRunCmd chains ingest, detect and forecast the way the nightly batch does.
// Analysis still runs when some files fail to ingest.
func newRunCmd(a *app) *cobra.Command {
	var (
		asOf            string
		institutionName string
	)

	cmd := &cobra.Command{
		Use:   "run [path-or-gs-uri]...",
		Short: "Ingest the given files, then run anomaly detection and forecasting",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var runs []*domain.RunRecord
			var errs []error

			if len(args) > 0 {
				files := source.NewFiles()
				defer files.Close()

				uris, err := files.Expand(ctx, args)
				if err != nil {
					return err
				}
				in, err := a.newIngester(s, files)
				if err != nil {
					return err
				}
				ingested, err := in.IngestFiles(ctx, uris, institutionName)
				runs = append(runs, ingested...)
				errs = append(errs, err)
			}

			detectRun, _, err := a.detectStage(s).Run(ctx, day)
			runs = append(runs, detectRun)
			errs = append(errs, err)

			forecastRun, _, err := a.forecastStage(s).Run(ctx, day)
			runs = append(runs, forecastRun)
			errs = append(errs, err)

			printRuns(cmd.OutOrStdout(), runs)

			if sum, err := s.Summary(ctx); err == nil {
				a.log.Info().
					Int("transactions", sum.Transactions).
					Int("anomalies", sum.Anomalies).
					Int("unacknowledged", sum.UnacknowledgedAnomaly).
					Int("forecasts", sum.Forecasts).
					Msg("Batch summary")
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "analysis date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&institutionName, "institution", "i", "", "institution name; inferred from each file name when empty")
	return cmd
}
