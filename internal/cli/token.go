package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Device string
	TTL    time.Duration
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <identity>",
		Short: "Issue a session token for an identity",
		Long: `Sign a bearer token with --session-secret. Intended for operators and
field testing; devices normally receive tokens from the identity provider.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SessionSecret == "" {
				return fmt.Errorf("--session-secret (or SESSION_SECRET) is required")
			}
			ctx := cmd.Context()
			comp, cleanup, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			token, err := comp.Sessions.Issue(args[0], opts.Device, opts.TTL)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return opts.printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Device, "device", "", "device id embedded in the token")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 12*time.Hour, "token lifetime")

	return cmd
}
