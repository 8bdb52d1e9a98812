package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wotideas/ideas-engine/internal/auth"
)

// TokenResult is the output of the token command.
type TokenResult struct {
	AccountID string    `json:"account_id"`
	Admin     bool      `json:"admin"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <account-id> [nickname]",
		Short: "Issue a bearer token for an account",
		Long: `Sign a bearer token with JWT_SECRET for local testing and operations.

The account is an administrator if it is listed in ADMIN_ACCOUNT_IDS.

Examples:
  ideas-engine token alice
  ideas-engine token root "Site admin" --format json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nickname := args[0]
			if len(args) == 2 {
				nickname = args[1]
			}

			cfg := opts.Config
			a := auth.New(cfg.JWTSecret, cfg.JWTTTL, cfg.Admins, opts.Logger)
			issued := time.Now()
			tok, err := a.IssueToken(args[0], nickname)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to sign token", err)
			}

			res := TokenResult{
				AccountID: args[0],
				Admin:     a.IsAdmin(args[0]),
				Token:     tok,
				ExpiresAt: issued.Add(cfg.JWTTTL).UTC().Truncate(time.Second),
			}
			return opts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintln(w, tok)
			})
		},
	}
}
