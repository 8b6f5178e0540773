// Package app wires the engine together from a configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/flowguard/internal/atomicupdate"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/config"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/jobs"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/stuck"
	"github.com/roach88/flowguard/internal/webhook"
)

// Options replaces collaborators. Nil fields get production defaults: the
// system clock, UUIDv7 ids, log notifications and, outside production, the
// sandbox gateway.
type Options struct {
	Clock    clock.Clock
	IDs      ids.Generator
	Notifier notify.Notifier
	Gateway  gateway.Gateway
	Registry *prometheus.Registry
}

// App is the assembled engine.
type App struct {
	Config    config.Config
	Store     *store.Store
	Clock     clock.Clock
	Notifier  notify.Notifier
	Gateway   gateway.Gateway
	Integrity *integrity.Config
	Registry  *prometheus.Registry
	Updater   *atomicupdate.Updater

	Sessions      *service.SessionService
	Payments      *service.PaymentService
	Refunds       *service.RefundService
	Cancellations *service.CancellationService
	Reschedules   *service.ReschedulingService
	Recovery      *service.RecoveryService
	Admin         *service.AdminService

	Auditor    *invariant.Auditor
	Detector   *stuck.Detector
	Remediator *stuck.Remediator
	Webhooks   *webhook.Processor
	Sweeper    *jobs.Sweeper
}

// ErrNoGateway is returned when production is configured without a payment
// gateway.
var ErrNoGateway = errors.New("production requires a payment gateway; the sandbox only runs outside production")

// New opens the store and builds every component.
func New(cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.IDs == nil {
		opts.IDs = ids.UUIDv7{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.Gateway == nil {
		if cfg.Production() {
			return nil, ErrNoGateway
		}
		slog.Warn("using sandbox payment gateway", "environment", cfg.Environment)
		opts.Gateway = gateway.NewSandbox(opts.IDs)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	integ, err := integrity.New(cfg.Enforcement, integrity.WithClock(opts.Clock), integrity.WithRegisterer(opts.Registry))
	if err != nil {
		return nil, fmt.Errorf("integrity: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Store:     st,
		Clock:     opts.Clock,
		Notifier:  opts.Notifier,
		Gateway:   opts.Gateway,
		Integrity: integ,
		Registry:  opts.Registry,
		Updater:   atomicupdate.New(st, opts.Clock, opts.IDs, opts.Notifier),
	}
	d := service.Deps{
		Store:     st,
		Updater:   a.Updater,
		Integrity: integ,
		Gateway:   opts.Gateway,
		Notifier:  opts.Notifier,
		Clock:     opts.Clock,
		Policy:    cfg.Policy,
	}
	a.Sessions = service.NewSessionService(d, opts.IDs)
	a.Payments = service.NewPaymentService(d)
	a.Refunds = service.NewRefundService(d)
	a.Cancellations = service.NewCancellationService(d, a.Refunds)
	a.Reschedules = service.NewReschedulingService(d)
	a.Recovery = service.NewRecoveryService(d, a.Payments, a.Cancellations, a.Refunds)
	a.Admin = service.NewAdminService(d)

	a.Auditor = invariant.NewAuditor(st, cfg.Policy.MaxReschedules, opts.Notifier, opts.Clock)
	a.Detector = stuck.NewDetector(cfg.StuckThresholds)
	a.Remediator = stuck.NewRemediator(a.Recovery, opts.Notifier, opts.Clock)
	a.Webhooks = webhook.NewProcessor(webhook.Config{
		Secret:           []byte(cfg.WebhookSecret),
		RequireSignature: cfg.Production(),
	}, st, a.Payments, a.Auditor, a.Detector, opts.Clock)
	a.Sweeper = jobs.NewSweeper(st, a.Recovery, a.Detector, a.Remediator, a.Auditor, opts.Clock)

	slog.Info("flowguard assembled",
		"environment", cfg.Environment,
		"database", cfg.DatabasePath,
		"enforcement", cfg.Enforcement,
	)
	return a, nil
}

// Intervals returns the configured job intervals.
func (a *App) Intervals() jobs.Intervals {
	return jobs.Intervals{
		NoShow:    a.Config.Jobs.NoShowInterval,
		Stuck:     a.Config.Jobs.StuckInterval,
		Reconcile: a.Config.Jobs.ReconcileInterval,
	}
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
