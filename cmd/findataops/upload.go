package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dvloznov/findataops/internal/domain"
	"github.com/dvloznov/findataops/internal/source"
	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		bucket          string
		object          string
		ingest          bool
		institutionName string
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a statement file to Cloud Storage, optionally ingesting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" {
				return fmt.Errorf("--bucket is required")
			}
			path := args[0]
			if object == "" {
				object = fmt.Sprintf("statements/%s/%s", time.Now().UTC().Format("2006/01/02"), filepath.Base(path))
			}
			ctx := cmd.Context()

			files := source.NewFiles()
			defer files.Close()

			if err := files.UploadFile(ctx, bucket, object, path); err != nil {
				return err
			}
			uri := source.GCSScheme + bucket + "/" + object
			fmt.Fprintln(cmd.OutOrStdout(), uri)

			if !ingest {
				return nil
			}
			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			in, err := a.newIngester(s, files)
			if err != nil {
				return err
			}
			run, err := in.IngestFile(ctx, uri, institutionName)
			if run != nil {
				printRuns(cmd.OutOrStdout(), []*domain.RunRecord{run})
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "destination bucket")
	cmd.Flags().StringVarP(&object, "object", "o", "", "object name (default statements/YYYY/MM/DD/<file name>)")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "ingest the uploaded object")
	cmd.Flags().StringVarP(&institutionName, "institution", "i", "", "institution name for --ingest")
	return cmd
}
