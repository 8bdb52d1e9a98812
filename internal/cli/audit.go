package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/wotideas/ideas-engine/internal/audit"
	"github.com/wotideas/ideas-engine/internal/store"
)

// AuditReport is the result of the audit command.
type AuditReport struct {
	Discrepancies []audit.Discrepancy        `json:"discrepancies"`
	Pending       []audit.PendingResolution `json:"pending_resolutions"`
	Clean         bool                       `json:"clean"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the ledger against the event log",
		Long: `Replay the event log, compare each account's derived balance with the
ledger, and list resolutions that started but never finished.

Exit codes:
  0 - Ledger and event log agree, nothing pending
  1 - Discrepancies or unfinished resolutions found
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Config.DatabaseURL == "" {
				return WrapExitError(ExitCommandError, "DATABASE_URL is required", nil)
			}
			pool, err := pgxpool.New(cmd.Context(), opts.Config.DatabaseURL)
			if err != nil {
				return WrapExitError(ExitCommandError, "database connection failed", err)
			}
			defer pool.Close()
			return runAudit(cmd.Context(), opts, store.NewPostgresStore(pool), cmd.OutOrStdout())
		},
	}
}

func runAudit(ctx context.Context, opts *RootOptions, s store.Store, w io.Writer) error {
	report, err := buildReport(ctx, s)
	if err != nil {
		return WrapExitError(ExitCommandError, "audit failed", err)
	}

	if err := opts.emit(w, report, func(w io.Writer) {
		for _, d := range report.Discrepancies {
			fmt.Fprintln(w, "discrepancy:", d)
		}
		for _, p := range report.Pending {
			fmt.Fprintf(w, "pending: idea %s resolution=%t started at seq %d, %d prizes paid\n",
				p.IdeaID, p.Resolution, p.StartedSeq, p.PrizesPaid)
		}
		if report.Clean {
			fmt.Fprintln(w, "ledger and event log agree")
		}
	}); err != nil {
		return err
	}

	if !report.Clean {
		return &ExitError{
			Code:    ExitFailure,
			Message: fmt.Sprintf("audit found %d discrepancies and %d unfinished resolutions", len(report.Discrepancies), len(report.Pending)),
		}
	}
	return nil
}

func buildReport(ctx context.Context, s store.Store) (*AuditReport, error) {
	discrepancies, err := audit.Verify(ctx, s, s)
	if err != nil {
		return nil, err
	}
	pending, err := audit.PendingResolutions(ctx, s)
	if err != nil {
		return nil, err
	}
	if discrepancies == nil {
		discrepancies = []audit.Discrepancy{}
	}
	if pending == nil {
		pending = []audit.PendingResolution{}
	}
	return &AuditReport{
		Discrepancies: discrepancies,
		Pending:       pending,
		Clean:         len(discrepancies) == 0 && len(pending) == 0,
	}, nil
}
