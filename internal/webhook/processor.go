// Package webhook is the payment callback entry point. Every delivery is
// written to the durable inbox before anything else happens, then verified,
// audited around the payment write path and marked with its outcome.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/flowguard/internal/canonical"
	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/gateway"
	"github.com/roach88/flowguard/internal/invariant"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/store"
	"github.com/roach88/flowguard/internal/stuck"
)

// Config controls signature handling.
type Config struct {
	// Secret is the shared HMAC key for callback signatures.
	Secret []byte
	// RequireSignature rejects unsigned or badly signed deliveries. Set in
	// production; elsewhere a bad signature is only logged.
	RequireSignature bool
}

// Processor runs deliveries through the payment write path.
type Processor struct {
	cfg      Config
	store    *store.Store
	payments *service.PaymentService
	auditor  *invariant.Auditor
	detector *stuck.Detector
	clock    clock.Clock
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config, st *store.Store, payments *service.PaymentService, auditor *invariant.Auditor, detector *stuck.Detector, clk clock.Clock) *Processor {
	return &Processor{cfg: cfg, store: st, payments: payments, auditor: auditor, detector: detector, clock: clk}
}

// Result describes what happened to one delivery.
type Result struct {
	InboxID  int64
	Status   store.WebhookStatus
	Callback gateway.Callback
	Outcome  *service.Outcome
	Findings []stuck.Finding
}

// Fingerprint identifies a callback by its content rather than its bytes,
// so a resend with different whitespace matches the original.
func Fingerprint(cb gateway.Callback) (string, error) {
	return canonical.Fingerprint(canonical.DomainCallback, map[string]any{
		"checkout_reference": cb.CheckoutReference,
		"result_code":        cb.ResultCode,
		"amount":             cb.Amount,
		"receipt":            cb.Receipt,
	})
}

// Handle processes one raw delivery. The returned Result is non-nil whenever
// the delivery reached the inbox, including on error.
func (p *Processor) Handle(ctx context.Context, body []byte, signature string) (*Result, error) {
	sigErr := gateway.Verify(p.cfg.Secret, body, signature)
	cb, parseErr := gateway.ParseCallback(body)

	var (
		fp  string
		err error
	)
	if parseErr == nil {
		fp, err = Fingerprint(cb)
	} else {
		fp, err = canonical.Fingerprint(canonical.DomainWebhook, string(body))
	}
	if err != nil {
		return nil, fmt.Errorf("handle webhook: %w", err)
	}

	id, err := p.store.RecordWebhook(ctx, store.WebhookRecord{
		ReceivedAt:        p.clock.Now(),
		CheckoutReference: cb.CheckoutReference,
		Fingerprint:       fp,
		SignatureValid:    sigErr == nil,
		Payload:           string(body),
	})
	if err != nil {
		return nil, fmt.Errorf("handle webhook: %w", err)
	}
	res := &Result{InboxID: id, Callback: cb}

	if sigErr != nil {
		if p.cfg.RequireSignature {
			slog.WarnContext(ctx, "webhook signature rejected", "inbox_id", id, "checkout_reference", cb.CheckoutReference)
			return p.finish(ctx, res, store.WebhookRejected, sigErr)
		}
		slog.WarnContext(ctx, "webhook signature invalid; accepted outside production", "inbox_id", id)
	}
	if parseErr != nil {
		slog.WarnContext(ctx, "malformed webhook", "inbox_id", id, "error", parseErr)
		return p.finish(ctx, res, store.WebhookFailed, parseErr)
	}

	var sessionID string
	if s, err := p.store.FindByCheckoutRef(ctx, cb.CheckoutReference); err == nil {
		sessionID = s.ID
		if err := p.auditor.CheckSession(ctx, s, invariant.PhasePre); err != nil {
			return p.finish(ctx, res, store.WebhookFailed, err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return p.finish(ctx, res, store.WebhookFailed, err)
	}

	out, err := p.payments.ProcessCallback(ctx, domain.ActorPayment, cb, fp)
	if err != nil {
		return p.finish(ctx, res, store.WebhookFailed, err)
	}
	res.Outcome = out
	if sessionID == "" {
		sessionID = out.Session.ID
	}

	status := store.WebhookProcessed
	if out.Duplicate {
		status = store.WebhookDuplicate
	}
	// The change is committed; a post-check breach is reported, not undone.
	if err := p.auditor.Check(ctx, sessionID, invariant.PhasePost); err != nil {
		return p.finish(ctx, res, status, err)
	}

	if s, err := p.store.GetSession(ctx, sessionID); err == nil {
		res.Findings = p.detector.Inspect(s, p.clock.Now())
		for _, f := range res.Findings {
			slog.WarnContext(ctx, "session stuck after callback", "finding", f.String())
		}
	}
	return p.finish(ctx, res, status, nil)
}

func (p *Processor) finish(ctx context.Context, res *Result, status store.WebhookStatus, cause error) (*Result, error) {
	res.Status = status
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.MarkWebhook(ctx, res.InboxID, status, msg, p.clock.Now()); err != nil {
		slog.ErrorContext(ctx, "failed to mark webhook", "inbox_id", res.InboxID, "status", status, "error", err)
		if cause == nil {
			cause = err
		}
	}
	if cause != nil {
		return res, fmt.Errorf("webhook %d: %w", res.InboxID, cause)
	}
	return res, nil
}
