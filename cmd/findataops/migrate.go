package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Long: `Applies the embedded NNNN_name.sql migrations for the configured driver in
version order and records each one in schema_migrations. Already applied
versions are skipped; a changed checksum on an applied file is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Migrate(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", n, a.cfg.Store.Driver)
			return nil
		},
	}
}
