package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wotideas/ideas-engine/internal/store"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply, roll back or inspect the embedded schema migrations.

The database is taken from DATABASE_URL.

Examples:
  ideas-engine migrate up
  ideas-engine migrate down --steps 1
  ideas-engine migrate status --format json`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if opts.Config.DatabaseURL == "" {
				return WrapExitError(ExitCommandError, "DATABASE_URL is required", nil)
			}
			return nil
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := store.MigrateUp(opts.Config.DatabaseURL); err != nil {
				return WrapExitError(ExitCommandError, "migrate up failed", err)
			}
			return printStatus(opts, cmd.OutOrStdout())
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return WrapExitError(ExitCommandError, "invalid --steps", fmt.Errorf("must be at least 1, got %d", steps))
			}
			if err := store.MigrateDown(opts.Config.DatabaseURL, steps); err != nil {
				return WrapExitError(ExitCommandError, "migrate down failed", err)
			}
			return printStatus(opts, cmd.OutOrStdout())
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStatus(opts, cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func printStatus(opts *RootOptions, w io.Writer) error {
	st, err := store.MigrateVersion(opts.Config.DatabaseURL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}
	return opts.emit(w, st, func(w io.Writer) {
		switch {
		case !st.Applied:
			fmt.Fprintln(w, "schema: no migrations applied")
		case st.Dirty:
			fmt.Fprintf(w, "schema: version %d (dirty)\n", st.Version)
		default:
			fmt.Fprintf(w, "schema: version %d\n", st.Version)
		}
	})
}
