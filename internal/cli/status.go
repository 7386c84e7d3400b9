package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/biosync/biosync/internal/status"
)

type statusRow struct {
	IdentityID    string     `json:"id_usuario"`
	LastSyncAt    *time.Time `json:"ultima_sync,omitempty"`
	LastOutcome   string     `json:"ultimo_estado,omitempty"`
	Attempts      int        `json:"intentos"`
	Pending       int        `json:"cola_pendiente"`
	Failed        int        `json:"cola_fallida"`
	OpenConflicts int        `json:"conflictos"`
	Checkpoints   int        `json:"checkpoints"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [identity]",
		Short: "Show sync status per identity",
		Long: `Show the sync rollup of one identity, or of every identity that has
synced at least once when no argument is given.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			comp, cleanup, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var summaries []status.Summary
			if len(args) == 1 {
				s, err := comp.Status.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				summaries = []status.Summary{s}
			} else if summaries, err = comp.Status.All(ctx); err != nil {
				return err
			}

			rows := make([]statusRow, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, statusRow{
					IdentityID:    s.IdentityID,
					LastSyncAt:    s.LastSyncAt,
					LastOutcome:   s.LastOutcome,
					Attempts:      s.Attempts,
					Pending:       s.Queue.Pending,
					Failed:        s.Queue.Failed,
					OpenConflicts: s.OpenConflicts,
					Checkpoints:   s.Checkpoints,
				})
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return opts.printJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no sync activity")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tLAST SYNC\tOUTCOME\tATTEMPTS\tPENDING\tFAILED\tCONFLICTS\tCHECKPOINTS")
			for _, r := range rows {
				last := "-"
				if r.LastSyncAt != nil {
					last = r.LastSyncAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.IdentityID, last, r.LastOutcome, r.Attempts, r.Pending, r.Failed, r.OpenConflicts, r.Checkpoints)
			}
			return tw.Flush()
		},
	}
}
