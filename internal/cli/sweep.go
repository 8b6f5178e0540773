package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/app"
	"github.com/roach88/flowguard/internal/stuck"
)

// NoShowSummary is one session visited by the no-show scan.
type NoShowSummary struct {
	SessionID string `json:"session_id"`
	Verdict   string `json:"verdict"`
	Error     string `json:"error,omitempty"`
}

// StuckSummary is the result of a stuck-state sweep.
type StuckSummary struct {
	Inspected  int             `json:"inspected"`
	Remediated bool            `json:"remediated"`
	Failed     int             `json:"failed"`
	Findings   []stuck.Finding `json:"findings"`
}

// ViolationSummary is one session that breaks a global invariant.
type ViolationSummary struct {
	SessionID string   `json:"session_id"`
	Rules     []string `json:"rules"`
	Message   string   `json:"message"`
}

// NewSweepCommand creates the sweep command and its subcommands.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one periodic sweep now",
		Long: `Run a single pass of one of the scheduled sweeps against the
configured database. Useful from cron or while investigating an incident.`,
	}
	cmd.AddCommand(newNoShowSweep(rootOpts))
	cmd.AddCommand(newStuckSweep(rootOpts))
	cmd.AddCommand(newReconcileSweep(rootOpts))
	return cmd
}

// withApp runs fn against a freshly opened engine.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

func newNoShowSweep(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "no-shows",
		Short: "Classify ready sessions past their grace period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app.App) error {
				results, err := a.Sweeper.NoShows(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "no-show scan failed", err)
				}
				out := make([]NoShowSummary, 0, len(results))
				for _, r := range results {
					s := NoShowSummary{SessionID: r.SessionID, Verdict: string(r.Verdict)}
					if r.Err != nil {
						s.Error = r.Err.Error()
					}
					out = append(out, s)
				}
				return opts.formatter(cmd).Success(out, func(w io.Writer) {
					if len(out) == 0 {
						fmt.Fprintln(w, "No sessions past their grace period.")
						return
					}
					for _, s := range out {
						if s.Error != "" {
							fmt.Fprintf(w, "%s  %s  error: %s\n", s.SessionID, s.Verdict, s.Error)
							continue
						}
						fmt.Fprintf(w, "%s  %s\n", s.SessionID, s.Verdict)
					}
				})
			})
		},
	}
}

func newStuckSweep(opts *RootOptions) *cobra.Command {
	var remediate bool
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "Find entities stuck past their thresholds",
		Long: `Inspect every open session for payment, session and refund states
held past their thresholds. Detection never mutates; pass --remediate to
apply the recommended action for each finding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Sweeper.Stuck(ctx, remediate)
				if err != nil {
					return WrapExitError(ExitCommandError, "stuck sweep failed", err)
				}
				out := StuckSummary{
					Inspected:  report.Inspected,
					Remediated: remediate,
					Failed:     report.Failed,
					Findings:   report.Findings,
				}
				if out.Findings == nil {
					out.Findings = []stuck.Finding{}
				}
				if err := opts.formatter(cmd).Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "Inspected %d sessions, %d findings\n", out.Inspected, len(out.Findings))
					for _, f := range out.Findings {
						fmt.Fprintf(w, "  %s\n", f)
					}
					if remediate && out.Failed > 0 {
						fmt.Fprintf(w, "%d remediations failed\n", out.Failed)
					}
				}); err != nil {
					return err
				}
				if out.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d remediations failed", out.Failed))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remediate, "remediate", false, "apply the recommended action for each finding")
	return cmd
}

func newReconcileSweep(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check every session against the global invariants",
		Long: `Re-read every stored session and check the global invariants.
Exits 1 when any session breaks one; each violation also raises an urgent
alert.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(ctx context.Context, a *app.App) error {
				violations, err := a.Sweeper.Reconcile(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "reconciliation failed", err)
				}
				out := make([]ViolationSummary, 0, len(violations))
				for _, v := range violations {
					rules := make([]string, len(v.Breaches))
					for i, b := range v.Breaches {
						rules[i] = string(b.Rule)
					}
					out = append(out, ViolationSummary{SessionID: v.SessionID, Rules: rules, Message: v.Error()})
				}
				if err := opts.formatter(cmd).Success(out, func(w io.Writer) {
					if len(out) == 0 {
						fmt.Fprintln(w, "All sessions consistent.")
						return
					}
					for _, v := range out {
						fmt.Fprintln(w, v.Message)
					}
				}); err != nil {
					return err
				}
				if len(out) > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d sessions violate invariants", len(out)))
				}
				return nil
			})
		},
	}
}
