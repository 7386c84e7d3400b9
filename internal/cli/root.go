// Package cli implements syncadmin, the operator command line for the sync engine.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/biosync/biosync/internal/config"
	"github.com/biosync/biosync/internal/infra"
	"github.com/biosync/biosync/internal/logging"
	"github.com/biosync/biosync/internal/routes"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database      string
	SessionSecret string
	Format        string // "json" | "text"
	LogLevel      string

	// components short-circuits open; tests preload it with memory backends.
	components *routes.Components
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for syncadmin.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syncadmin",
		Short: "Operate the biometric sync engine",
		Long:  "Apply the schema, inspect and resolve sync conflicts, and read per-identity sync status.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "database", orEnv(opts.Database, "DATABASE_URL"), "PostgreSQL URL (empty uses in-memory storage)")
	cmd.PersistentFlags().StringVar(&opts.SessionSecret, "session-secret", orEnv(opts.SessionSecret, "SESSION_SECRET"), "HS256 secret for session tokens")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "error", "log level")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func orEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// connect opens the configured database. A nil pool means in-memory storage.
func (o *RootOptions) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if o.Database == "" {
		return nil, nil
	}
	return infra.NewPostgresPool(ctx, o.Database)
}

// open wires the sync components. The returned cleanup flushes audit events and
// closes the pool.
func (o *RootOptions) open(ctx context.Context) (*routes.Components, func(), error) {
	if o.components != nil {
		return o.components, func() {}, nil
	}
	db, err := o.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := config.Config{
		AppName:          "syncadmin",
		SessionSecret:    o.SessionSecret,
		QueueMaxAttempts: 5,
		AuditBuffer:      64,
		AuditStream:      "audit:sync",
	}
	comp := routes.Build(cfg, db, nil, logging.New(o.LogLevel))
	return comp, func() {
		_ = comp.Close(context.Background())
		if db != nil {
			db.Close()
		}
	}, nil
}

func (o *RootOptions) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
