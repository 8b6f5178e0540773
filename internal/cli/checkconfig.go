package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/config"
)

// ConfigSummary is the effective configuration with secrets masked.
type ConfigSummary struct {
	Environment     string `json:"environment"`
	DatabasePath    string `json:"database_path"`
	Listen          string `json:"listen"`
	Enforcement     string `json:"enforcement"`
	WebhookSecret   string `json:"webhook_secret"`
	AdminSigningKey string `json:"admin_signing_key"`
	GatewayTimeout  string `json:"gateway_timeout"`
	MaxReschedules  int    `json:"max_reschedules"`
	AutoRefundLimit int64  `json:"auto_refund_limit"`
}

// NewCheckConfigCommand creates the check-config command.
func NewCheckConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration without starting anything",
		Long: `Load the config file against its schema, apply the env file and
environment overrides, run the cross-field checks and print the effective
configuration. Secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := config.Load(rootOpts.ConfigPath, rootOpts.EnvFile)
			if err != nil {
				_ = f.Error(CodeConfig, "invalid configuration", err.Error())
				return WrapExitError(ExitFailure, "invalid configuration", err)
			}
			sum := summarize(cfg)
			return f.Success(sum, func(w io.Writer) {
				fmt.Fprintln(w, "Configuration valid.")
				fmt.Fprintf(w, "  environment:       %s\n", sum.Environment)
				fmt.Fprintf(w, "  database:          %s\n", sum.DatabasePath)
				fmt.Fprintf(w, "  listen:            %s\n", sum.Listen)
				fmt.Fprintf(w, "  enforcement:       %s\n", sum.Enforcement)
				fmt.Fprintf(w, "  webhook secret:    %s\n", sum.WebhookSecret)
				fmt.Fprintf(w, "  admin signing key: %s\n", sum.AdminSigningKey)
				fmt.Fprintf(w, "  gateway timeout:   %s\n", sum.GatewayTimeout)
				fmt.Fprintf(w, "  max reschedules:   %d\n", sum.MaxReschedules)
				fmt.Fprintf(w, "  auto refund limit: %d\n", sum.AutoRefundLimit)
			})
		},
	}
}

func summarize(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Environment:     cfg.Environment,
		DatabasePath:    cfg.DatabasePath,
		Listen:          cfg.Listen,
		Enforcement:     string(cfg.Enforcement),
		WebhookSecret:   mask(cfg.WebhookSecret),
		AdminSigningKey: mask(cfg.AdminSigningKey),
		GatewayTimeout:  cfg.Policy.GatewayTimeout.String(),
		MaxReschedules:  cfg.Policy.MaxReschedules,
		AutoRefundLimit: cfg.Policy.AutoRefundLimit,
	}
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}
