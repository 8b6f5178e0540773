// Package jobs runs the periodic sweeps: no-show detection, stuck-state
// remediation and invariant reconciliation. Every sweep goes through the
// same services and auditor as live traffic.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/stuck"
)

// Sweeper holds the collaborators of every sweep.
type Sweeper struct {
	store      *store.Store
	recovery   *service.RecoveryService
	detector   *stuck.Detector
	remediator *stuck.Remediator
	auditor    *invariant.Auditor
	clock      clock.Clock
}

// NewSweeper creates a Sweeper.
func NewSweeper(st *store.Store, recovery *service.RecoveryService, detector *stuck.Detector,
	remediator *stuck.Remediator, auditor *invariant.Auditor, clk clock.Clock) *Sweeper {
	return &Sweeper{
		store:      st,
		recovery:   recovery,
		detector:   detector,
		remediator: remediator,
		auditor:    auditor,
		clock:      clk,
	}
}

// StuckReport summarizes a stuck-state sweep.
type StuckReport struct {
	Inspected int
	Findings  []stuck.Finding
	Failed    int
}

// NoShows runs the no-show scan.
func (s *Sweeper) NoShows(ctx context.Context) ([]service.NoShowResult, error) {
	return s.recovery.ScanNoShows(ctx, domain.ActorSystem)
}

// candidates returns every session a stuck-state rule can apply to: the
// non-terminal ones plus terminal ones whose refund is still open.
func (s *Sweeper) candidates(ctx context.Context) ([]*domain.Session, error) {
	open, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(open))
	for _, sess := range open {
		seen[sess.ID] = true
	}
	for _, r := range []domain.RefundState{domain.RefundRequested, domain.RefundProcessing, domain.RefundPendingManual} {
		refunds, err := s.store.ListRefundsByState(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, sess := range refunds {
			if !seen[sess.ID] {
				seen[sess.ID] = true
				open = append(open, sess)
			}
		}
	}
	return open, nil
}

// Stuck inspects every candidate session and, when remediate is set, acts on
// each finding. Detection alone never mutates.
func (s *Sweeper) Stuck(ctx context.Context, remediate bool) (StuckReport, error) {
	sessions, err := s.candidates(ctx)
	if err != nil {
		return StuckReport{}, fmt.Errorf("stuck sweep: %w", err)
	}
	now := s.clock.Now()
	report := StuckReport{Inspected: len(sessions)}
	for _, sess := range sessions {
		findings := s.detector.Inspect(sess, now)
		report.Findings = append(report.Findings, findings...)
		if !remediate {
			continue
		}
		for _, f := range findings {
			if err := s.remediator.Remediate(ctx, f); err != nil {
				report.Failed++
			}
		}
	}
	slog.InfoContext(ctx, "stuck sweep finished",
		"inspected", report.Inspected,
		"findings", len(report.Findings),
		"failed", report.Failed,
	)
	return report, nil
}

// Reconcile audits every persisted session against the global invariants
// and returns the violations found.
func (s *Sweeper) Reconcile(ctx context.Context) ([]*invariant.NuclearViolation, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	var violations []*invariant.NuclearViolation
	for _, sess := range sessions {
		err := s.auditor.CheckSession(ctx, sess, invariant.PhaseScan)
		var v *invariant.NuclearViolation
		switch {
		case err == nil:
		case errors.As(err, &v):
			violations = append(violations, v)
		default:
			return violations, fmt.Errorf("reconcile: %w", err)
		}
	}
	slog.InfoContext(ctx, "reconciliation finished", "sessions", len(sessions), "violations", len(violations))
	return violations, nil
}

// Intervals configures the scheduler. A zero interval disables that sweep.
type Intervals struct {
	NoShow    time.Duration
	Stuck     time.Duration
	Reconcile time.Duration
}

// Run runs the sweeps on their intervals until ctx is cancelled. Sweeps run
// one at a time on the calling goroutine; a failed sweep is logged and the
// schedule continues.
func (s *Sweeper) Run(ctx context.Context, iv Intervals) error {
	slog.Info("job scheduler starting",
		"no_show_interval", iv.NoShow,
		"stuck_interval", iv.Stuck,
		"reconcile_interval", iv.Reconcile,
	)
	noShow, stopNoShow := ticker(iv.NoShow)
	defer stopNoShow()
	stuckTick, stopStuck := ticker(iv.Stuck)
	defer stopStuck()
	reconcile, stopReconcile := ticker(iv.Reconcile)
	defer stopReconcile()

	for {
		var err error
		select {
		case <-ctx.Done():
			slog.Info("job scheduler stopping: context cancelled")
			return ctx.Err()
		case <-noShow:
			_, err = s.NoShows(ctx)
		case <-stuckTick:
			_, err = s.Stuck(ctx, true)
		case <-reconcile:
			_, err = s.Reconcile(ctx)
		}
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "sweep failed", "error", err)
		}
	}
}

// ticker returns a channel that fires every d, or never when d is zero.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
