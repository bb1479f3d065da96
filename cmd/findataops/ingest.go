package main

import (
	"github.com/dvloznov/findataops/internal/source"
	"github.com/spf13/cobra"
)

func newIngestCmd(a *app) *cobra.Command {
	var institutionName string

	cmd := &cobra.Command{
		Use:   "ingest <path-or-gs-uri>...",
		Short: "Extract, normalize and load statement CSV files",
		Long: `Each argument is a CSV file, a local directory (every *.csv inside it) or a
gs://bucket/prefix/ location. Files are loaded concurrently, one run per file.
Rows already present are skipped, so re-ingesting a file is safe.`,
		Example: `  findataops ingest statements/chase_2024_01.csv
  findataops ingest --institution "American Express" gs://statements/amex/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

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

			runs, err := in.IngestFiles(ctx, uris, institutionName)
			printRuns(cmd.OutOrStdout(), runs)
			return err
		},
	}

	cmd.Flags().StringVarP(&institutionName, "institution", "i", "", "institution name; inferred from each file name when empty")
	return cmd
}
