// Package gateway is the payment provider boundary: STK push initiation,
// refunds, and parsing of signed result callbacks.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when the provider did not answer in time. The
	// outcome is unknown; a callback may still arrive.
	ErrTimeout = errors.New("gateway timeout")

	// ErrRejected is returned when the provider refused the request.
	ErrRejected = errors.New("gateway rejected request")
)

// IsTimeout reports whether err means the provider outcome is unknown.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// InitiateRequest asks the provider to push a payment prompt to the client.
type InitiateRequest struct {
	SessionID string
	ClientID  string
	Phone     string
	Amount    int64
	Currency  string
}

// InitiateResponse carries the provider's checkout reference, which later
// callbacks quote.
type InitiateResponse struct {
	CheckoutReference string
}

// RefundRequest returns money for a confirmed transaction.
type RefundRequest struct {
	SessionID     string
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
}

// RefundResponse carries the provider's refund reference.
type RefundResponse struct {
	Reference string
}

// Gateway is the payment provider.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResponse, error)
}
