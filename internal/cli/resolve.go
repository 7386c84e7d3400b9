package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResolveCommand creates the resolve command.
func NewResolveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <metadata-id> <strategy>",
		Short: "Resolve a sync conflict",
		Long: `Clear the conflict flag on a metadata record and its counterparts.

Strategy is one of server-wins, device-wins, manual or merge. Entity data is
not changed; the affected records return to pending.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			comp, cleanup, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := comp.Tracker.ResolveConflict(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(cmd.OutOrStdout(), toConflictRow(rec))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s (%s/%s) with %s\n", rec.ID, rec.EntityType, rec.EntityID, rec.Resolution)
			return nil
		},
	}
}
