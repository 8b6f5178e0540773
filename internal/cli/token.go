package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/api"
)

// TokenResult is an issued admin token.
type TokenResult struct {
	Token     string    `json:"token"`
	Operator  string    `json:"operator"`
	Emergency bool      `json:"emergency"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		operator  string
		emergency bool
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		Long: `Sign a bearer token for the admin API with the configured admin
signing key. --emergency grants the kill switch actions.

Example:
  flowguard token --operator alice --ttl 30m --emergency`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminSigningKey == "" {
				return NewExitError(ExitCommandError, "no admin signing key configured")
			}
			if ttl <= 0 {
				return NewExitError(ExitCommandError, "ttl must be positive")
			}
			now := time.Now()
			token, err := api.IssueAdminToken([]byte(cfg.AdminSigningKey), operator, emergency, now, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to sign token", err)
			}
			out := TokenResult{Token: token, Operator: operator, Emergency: emergency, ExpiresAt: now.Add(ttl).UTC()}
			return rootOpts.formatter(cmd).Success(out, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the audit log (required)")
	_ = cmd.MarkFlagRequired("operator")
	cmd.Flags().BoolVar(&emergency, "emergency", false, "allow emergency disable and enable")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
