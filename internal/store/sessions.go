package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/flowguard/internal/domain"
)

const sessionColumns = `
	id, client_id, therapist_id, session_type, scheduled_at, duration_minutes,
	payment_state, session_state, video_state, price, currency,
	checkout_reference, gateway_transaction_id,
	reschedule_count, pending_reschedule_at, pending_reschedule_by,
	refund_state, refund_amount, forms_required, forms_complete,
	client_last_activity_at, therapist_last_activity_at,
	payment_changed_at, status_changed_at, video_changed_at, refund_changed_at,
	status_reason, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                                      domain.Session
		scheduledAt                            string
		payment, status, video, refund         string
		checkoutRef, gatewayTx                 sql.NullString
		pendingAt, clientSeen, therapistSeen   sql.NullString
		paymentAt, statusAt, videoAt, refundAt string
		createdAt, updatedAt                   string
		formsRequired, formsComplete           int
	)
	err := row.Scan(
		&s.ID, &s.ClientID, &s.TherapistID, &s.SessionType, &scheduledAt, &s.DurationMinutes,
		&payment, &status, &video, &s.Price, &s.Currency,
		&checkoutRef, &gatewayTx,
		&s.RescheduleCount, &pendingAt, &s.PendingRescheduleBy,
		&refund, &s.RefundAmount, &formsRequired, &formsComplete,
		&clientSeen, &therapistSeen,
		&paymentAt, &statusAt, &videoAt, &refundAt,
		&s.StatusReason, &s.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if s.Payment, err = domain.ParsePaymentState(payment); err != nil {
		return nil, err
	}
	if s.Status, err = domain.ParseSessionState(status); err != nil {
		return nil, err
	}
	if s.Video, err = domain.ParseVideoState(video); err != nil {
		return nil, err
	}
	if s.Refund, err = domain.ParseRefundState(refund); err != nil {
		return nil, err
	}
	s.CheckoutReference = checkoutRef.String
	s.GatewayTransactionID = gatewayTx.String
	s.FormsRequired = formsRequired != 0
	s.FormsComplete = formsComplete != 0

	times := []struct {
		dst *time.Time
		src string
	}{
		{&s.ScheduledAt, scheduledAt},
		{&s.PaymentChangedAt, paymentAt},
		{&s.StatusChangedAt, statusAt},
		{&s.VideoChangedAt, videoAt},
		{&s.RefundChangedAt, refundAt},
		{&s.CreatedAt, createdAt},
		{&s.UpdatedAt, updatedAt},
	}
	for _, tm := range times {
		if *tm.dst, err = parseTime(tm.src); err != nil {
			return nil, err
		}
	}
	if s.PendingRescheduleAt, err = scanNullTime(pendingAt); err != nil {
		return nil, err
	}
	if s.ClientLastActivityAt, err = scanNullTime(clientSeen); err != nil {
		return nil, err
	}
	if s.TherapistLastActivityAt, err = scanNullTime(therapistSeen); err != nil {
		return nil, err
	}
	return &s, nil
}

func getSession(ctx context.Context, q querier, where string, arg any) (*domain.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg)
	return scanSession(row)
}

func listSessions(ctx context.Context, q querier, query string, args ...any) ([]*domain.Session, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func insertSession(ctx context.Context, q querier, s *domain.Session) error {
	_, err := q.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ClientID, s.TherapistID, s.SessionType, formatTime(s.ScheduledAt), s.DurationMinutes,
		s.Payment.String(), s.Status.String(), s.Video.String(), s.Price, s.Currency,
		nullString(s.CheckoutReference), nullString(s.GatewayTransactionID),
		s.RescheduleCount, nullTime(s.PendingRescheduleAt), s.PendingRescheduleBy,
		s.Refund.String(), s.RefundAmount, boolInt(s.FormsRequired), boolInt(s.FormsComplete),
		nullTime(s.ClientLastActivityAt), nullTime(s.TherapistLastActivityAt),
		formatTime(s.PaymentChangedAt), formatTime(s.StatusChangedAt),
		formatTime(s.VideoChangedAt), formatTime(s.RefundChangedAt),
		s.StatusReason, s.Version, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert session %s: %w", s.ID, ErrDuplicateReference)
	}
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return rememberCheckoutRef(ctx, q, s.CheckoutReference, s.ID, s.UpdatedAt)
}

// updateSession writes every mutable column when the stored version still
// equals expected. The caller bumps s.Version before calling.
func updateSession(ctx context.Context, q querier, s *domain.Session, expected int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sessions SET
			scheduled_at = ?, duration_minutes = ?,
			payment_state = ?, session_state = ?, video_state = ?,
			price = ?, currency = ?,
			checkout_reference = ?, gateway_transaction_id = ?,
			reschedule_count = ?, pending_reschedule_at = ?, pending_reschedule_by = ?,
			refund_state = ?, refund_amount = ?,
			forms_required = ?, forms_complete = ?,
			client_last_activity_at = ?, therapist_last_activity_at = ?,
			payment_changed_at = ?, status_changed_at = ?, video_changed_at = ?, refund_changed_at = ?,
			status_reason = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		formatTime(s.ScheduledAt), s.DurationMinutes,
		s.Payment.String(), s.Status.String(), s.Video.String(),
		s.Price, s.Currency,
		nullString(s.CheckoutReference), nullString(s.GatewayTransactionID),
		s.RescheduleCount, nullTime(s.PendingRescheduleAt), s.PendingRescheduleBy,
		s.Refund.String(), s.RefundAmount,
		boolInt(s.FormsRequired), boolInt(s.FormsComplete),
		nullTime(s.ClientLastActivityAt), nullTime(s.TherapistLastActivityAt),
		formatTime(s.PaymentChangedAt), formatTime(s.StatusChangedAt),
		formatTime(s.VideoChangedAt), formatTime(s.RefundChangedAt),
		s.StatusReason, s.Version, formatTime(s.UpdatedAt),
		s.ID, expected,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update session %s: %w", s.ID, ErrDuplicateReference)
	}
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: rows affected: %w", s.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update session %s at version %d: %w", s.ID, expected, ErrConflict)
	}
	return rememberCheckoutRef(ctx, q, s.CheckoutReference, s.ID, s.UpdatedAt)
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, s.db, "id = ?", id)
}

// FindByCheckoutRef returns the session a gateway checkout reference was
// issued to, whether or not the session still holds it.
func (s *Store) FindByCheckoutRef(ctx context.Context, ref string) (*domain.Session, error) {
	return getSession(ctx, s.db,
		"id = (SELECT session_id FROM checkout_references WHERE checkout_reference = ?)", ref)
}

// ListSessionsByStatus returns sessions in the given scheduling state,
// ordered by scheduled start.
func (s *Store) ListSessionsByStatus(ctx context.Context, status domain.SessionState) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE session_state = ?
		ORDER BY scheduled_at ASC, id COLLATE BINARY ASC`, status.String())
}

// ListNonTerminal returns every session that is not in a terminal scheduling
// state. Used by the batch scanners.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE session_state NOT IN (?, ?, ?, ?, ?)
		ORDER BY scheduled_at ASC, id COLLATE BINARY ASC`,
		domain.SessionDeclined.String(), domain.SessionCompleted.String(),
		domain.SessionCancelled.String(), domain.SessionNoShowClient.String(),
		domain.SessionNoShowTherapist.String())
}

// ListSessions returns every session ordered by creation.
func (s *Store) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at ASC, id COLLATE BINARY ASC`)
}

// ListRefundsByState returns sessions whose refund tracker is in state r.
func (s *Store) ListRefundsByState(ctx context.Context, r domain.RefundState) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE refund_state = ?
		ORDER BY refund_changed_at ASC, id COLLATE BINARY ASC`, r.String())
}

// ListByGatewayTransaction returns the sessions carrying a gateway
// transaction id.
func (s *Store) ListByGatewayTransaction(ctx context.Context, gatewayTxID string) ([]*domain.Session, error) {
	return listSessions(ctx, s.db, `SELECT `+sessionColumns+` FROM sessions
		WHERE gateway_transaction_id = ?
		ORDER BY id COLLATE BINARY ASC`, gatewayTxID)
}
