package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/flowguard/internal/domain"
)

// Tx is a unit of work over sessions, audit entries and callback claims.
// Nothing is visible to other readers until Commit; Rollback after Commit is
// a no-op.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction. With a single open connection the transaction
// also excludes every other writer until it ends.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit makes every write in the transaction durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards every write in the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// GetSession reads a session inside the transaction.
func (t *Tx) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return getSession(ctx, t.tx, "id = ?", id)
}

// InsertSession stores a new session.
func (t *Tx) InsertSession(ctx context.Context, s *domain.Session) error {
	return insertSession(ctx, t.tx, s)
}

// UpdateSession stores s if the persisted version is still expected.
// Returns ErrConflict otherwise.
func (t *Tx) UpdateSession(ctx context.Context, s *domain.Session, expected int64) error {
	return updateSession(ctx, t.tx, s, expected)
}

// AppendAudit writes an audit entry in the transaction. Sets e.Seq.
func (t *Tx) AppendAudit(ctx context.Context, e *domain.AuditLogEntry) error {
	return appendAudit(ctx, t.tx, e)
}

// ClaimCallback records that a gateway outcome is being applied.
// inserted is false when the same outcome was claimed before.
func (t *Tx) ClaimCallback(ctx context.Context, key CallbackKey, fingerprint, sessionID string, at time.Time) (inserted bool, err error) {
	return claimCallback(ctx, t.tx, key, fingerprint, sessionID, at)
}

// TherapistSessions returns the therapist's non-terminal sessions other than
// excludeID, for overlap checks.
func (t *Tx) TherapistSessions(ctx context.Context, therapistID, excludeID string) ([]*domain.Session, error) {
	return listSessions(ctx, t.tx, `SELECT `+sessionColumns+` FROM sessions
		WHERE therapist_id = ? AND id != ?
		AND session_state NOT IN (?, ?, ?, ?, ?)
		ORDER BY scheduled_at ASC, id COLLATE BINARY ASC`,
		therapistID, excludeID,
		domain.SessionDeclined.String(), domain.SessionCompleted.String(),
		domain.SessionCancelled.String(), domain.SessionNoShowClient.String(),
		domain.SessionNoShowTherapist.String())
}

// CountByGatewayTransaction returns how many sessions carry the given
// gateway transaction id.
func (t *Tx) CountByGatewayTransaction(ctx context.Context, gatewayTxID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE gateway_transaction_id = ?
	`, gatewayTxID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count gateway transaction: %w", err)
	}
	return n, nil
}
