package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biosync/biosync/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Long: `Apply the embedded schema to the database named by --database.

The schema is idempotent; running it twice is safe.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database == "" {
				return fmt.Errorf("--database (or DATABASE_URL) is required")
			}
			ctx := cmd.Context()
			db, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
