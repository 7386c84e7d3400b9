package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/biosync/biosync/internal/metadata"
)

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	Identity string
	Device   string
}

type conflictRow struct {
	ID           string    `json:"id"`
	EntityType   string    `json:"tipo_entidad"`
	EntityID     string    `json:"id_entidad"`
	IdentityID   string    `json:"id_usuario,omitempty"`
	DeviceID     string    `json:"dispositivo_id"`
	LastModified time.Time `json:"ultima_modificacion"`
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List open sync conflicts",
		Long: `List metadata records flagged as conflicting.

Examples:
  syncadmin conflicts
  syncadmin conflicts --identity 7c0c... --device tablet-3 --format json`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			comp, cleanup, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			recs, err := comp.Tracker.Conflicts(ctx, opts.Identity, opts.Device)
			if err != nil {
				return err
			}
			rows := make([]conflictRow, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, toConflictRow(r))
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.printJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no open conflicts")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tENTITY\tDEVICE\tMODIFIED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\n", r.ID, r.EntityType, r.EntityID, r.DeviceID, r.LastModified.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "restrict to one identity")
	cmd.Flags().StringVar(&opts.Device, "device", "", "restrict to one device")

	return cmd
}

func toConflictRow(r metadata.Record) conflictRow {
	return conflictRow{
		ID:           r.ID,
		EntityType:   r.EntityType,
		EntityID:     r.EntityID,
		IdentityID:   r.IdentityID,
		DeviceID:     r.DeviceID,
		LastModified: r.LastModified,
	}
}
