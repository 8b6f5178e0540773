package store

import (
	"context"
	"fmt"
	"time"
)

// CallbackKey identifies one gateway outcome for one checkout reference.
// Replays of the same outcome carry the same key.
type CallbackKey struct {
	CheckoutReference string
	ResultCode        int
	Receipt           string
}

func claimCallback(ctx context.Context, q querier, key CallbackKey, fingerprint, sessionID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO payment_callbacks
		(checkout_reference, result_code, receipt, fingerprint, session_id, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(checkout_reference, result_code, receipt) DO NOTHING
	`,
		key.CheckoutReference,
		key.ResultCode,
		key.Receipt,
		fingerprint,
		sessionID,
		formatTime(at),
	)
	if err != nil {
		return false, fmt.Errorf("claim callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim callback: rows affected: %w", err)
	}
	return n > 0, nil
}

// HasCallback reports whether the given outcome was already applied.
func (s *Store) HasCallback(ctx context.Context, key CallbackKey) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_callbacks
		WHERE checkout_reference = ? AND result_code = ? AND receipt = ?
	`, key.CheckoutReference, key.ResultCode, key.Receipt).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check callback: %w", err)
	}
	return count > 0, nil
}
