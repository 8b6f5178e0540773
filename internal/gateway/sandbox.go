package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/flowguard/internal/ids"
)

// Sandbox is an in-process Gateway for development and tests. It never
// moves money. Failures and latency are configurable per call type.
type Sandbox struct {
	mu  sync.Mutex
	ids ids.Generator

	// InitiateErr and RefundErr, when set, are returned by the next calls.
	InitiateErr error
	RefundErr   error
	// Latency delays every call; a context deadline shorter than Latency
	// yields ErrTimeout.
	Latency time.Duration

	initiated []InitiateRequest
	refunded  []RefundRequest
}

// NewSandbox creates a Sandbox that draws references from gen.
func NewSandbox(gen ids.Generator) *Sandbox {
	if gen == nil {
		gen = ids.UUIDv7{}
	}
	return &Sandbox{ids: gen}
}

func (s *Sandbox) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.Latency
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Initiate implements Gateway.
func (s *Sandbox) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	if err := s.wait(ctx); err != nil {
		return InitiateResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InitiateErr != nil {
		return InitiateResponse{}, s.InitiateErr
	}
	s.initiated = append(s.initiated, req)
	ref := "ws_CO_" + s.ids.NewID()
	slog.Debug("sandbox payment initiated", "session_id", req.SessionID, "checkout_reference", ref, "amount", req.Amount)
	return InitiateResponse{CheckoutReference: ref}, nil
}

// Refund implements Gateway.
func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (RefundResponse, error) {
	if err := s.wait(ctx); err != nil {
		return RefundResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RefundErr != nil {
		return RefundResponse{}, s.RefundErr
	}
	s.refunded = append(s.refunded, req)
	ref := "rf_" + s.ids.NewID()
	slog.Debug("sandbox refund issued", "session_id", req.SessionID, "reference", ref, "amount", req.Amount)
	return RefundResponse{Reference: ref}, nil
}

// SetInitiateErr configures the error returned by Initiate.
func (s *Sandbox) SetInitiateErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InitiateErr = err
}

// SetRefundErr configures the error returned by Refund.
func (s *Sandbox) SetRefundErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefundErr = err
}

// SetLatency configures the delay applied to every call.
func (s *Sandbox) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Latency = d
}

// Refunds returns the refund requests accepted so far.
func (s *Sandbox) Refunds() []RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RefundRequest(nil), s.refunded...)
}

// Initiations returns the payment requests accepted so far.
func (s *Sandbox) Initiations() []InitiateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InitiateRequest(nil), s.initiated...)
}
