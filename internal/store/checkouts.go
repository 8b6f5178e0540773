package store

import (
	"context"
	"fmt"
	"time"
)

// CheckoutReference is one gateway checkout reference issued to a session.
type CheckoutReference struct {
	Reference string
	SessionID string
	IssuedAt  time.Time
}

// rememberCheckoutRef records that ref was issued to sessionID. Recording the
// same pair again is a no-op; a reference already issued to another session
// is ErrDuplicateReference.
func rememberCheckoutRef(ctx context.Context, q querier, ref, sessionID string, at time.Time) error {
	if ref == "" {
		return nil
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO checkout_references (checkout_reference, session_id, issued_at)
		VALUES (?, ?, ?)
		ON CONFLICT(checkout_reference) DO NOTHING
	`, ref, sessionID, formatTime(at))
	if err != nil {
		return fmt.Errorf("remember checkout reference %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remember checkout reference %s: rows affected: %w", ref, err)
	}
	if n > 0 {
		return nil
	}

	var owner string
	if err := q.QueryRowContext(ctx, `
		SELECT session_id FROM checkout_references WHERE checkout_reference = ?
	`, ref).Scan(&owner); err != nil {
		return fmt.Errorf("remember checkout reference %s: %w", ref, err)
	}
	if owner != sessionID {
		return fmt.Errorf("checkout reference %s issued to %s: %w", ref, owner, ErrDuplicateReference)
	}
	return nil
}

// CheckoutReferences returns every reference issued to a session, oldest
// first.
func (s *Store) CheckoutReferences(ctx context.Context, sessionID string) ([]CheckoutReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkout_reference, session_id, issued_at
		FROM checkout_references
		WHERE session_id = ?
		ORDER BY issued_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query checkout references: %w", err)
	}
	defer rows.Close()

	refs := []CheckoutReference{}
	for rows.Next() {
		var (
			r  CheckoutReference
			at string
		)
		if err := rows.Scan(&r.Reference, &r.SessionID, &at); err != nil {
			return nil, fmt.Errorf("scan checkout reference: %w", err)
		}
		if r.IssuedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkout references: %w", err)
	}
	return refs, nil
}
