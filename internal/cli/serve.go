package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
	NoJobs bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin API with the periodic sweeps",
		Long: `Start the HTTP server and the job scheduler.

The server accepts gateway callbacks on /webhooks/payment and exposes the
admin kill switch, health and metrics endpoints. Unless --no-jobs is set,
the no-show scan, stuck-state sweep and reconciliation run on the
intervals from the config.

Example:
  flowguard serve --config flowguard.yaml
  flowguard serve --listen :9090 --no-jobs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoJobs, "no-jobs", false, "do not run the periodic sweeps")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := opts.openApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr := a.Config.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	jobsDone := make(chan error, 1)
	if opts.NoJobs {
		jobsDone <- nil
	} else {
		go func() { jobsDone <- a.Sweeper.Run(ctx, a.Intervals()) }()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "flowguard listening on %s (enforcement %s)\n", addr, a.Integrity.Level())
	serveErr := api.NewServer(a).Run(ctx, addr)
	// The server stops on its own only when it fails to listen.
	cancel()
	jobsErr := <-jobsDone

	if serveErr != nil {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}
	if jobsErr != nil && !errors.Is(jobsErr, context.Canceled) {
		return WrapExitError(ExitFailure, "job scheduler error", jobsErr)
	}
	slog.Info("flowguard stopped gracefully")
	return nil
}
