package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowguard/internal/domain"
)

func appendAudit(ctx context.Context, q querier, e *domain.AuditLogEntry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, entity_type, entity_id, action, old_value, new_value, reason, actor, timestamp, metadata, duplicate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.EntityType),
		e.EntityID,
		e.Action,
		e.OldValue,
		e.NewValue,
		e.Reason,
		e.Actor.String(),
		formatTime(e.Timestamp),
		meta,
		boolInt(e.Duplicate),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append audit: last insert id: %w", err)
	}
	e.Seq = seq
	return nil
}

// AppendAudit writes a standalone audit entry outside any session mutation,
// used for enforcement changes and rejected operations. Sets e.Seq.
func (s *Store) AppendAudit(ctx context.Context, e *domain.AuditLogEntry) error {
	return appendAudit(ctx, s.db, e)
}

// ListAudit returns the audit trail of one entity in append order.
// Returns an empty slice (not nil) when nothing was recorded.
func (s *Store) ListAudit(ctx context.Context, entityID string) ([]domain.AuditLogEntry, error) {
	return s.queryAudit(ctx, `
		SELECT seq, id, entity_type, entity_id, action, old_value, new_value, reason, actor, timestamp, metadata, duplicate
		FROM audit_log
		WHERE entity_id = ?
		ORDER BY seq ASC
	`, entityID)
}

// ListAuditSince returns up to limit entries with seq greater than after.
func (s *Store) ListAuditSince(ctx context.Context, after int64, limit int) ([]domain.AuditLogEntry, error) {
	return s.queryAudit(ctx, `
		SELECT seq, id, entity_type, entity_id, action, old_value, new_value, reason, actor, timestamp, metadata, duplicate
		FROM audit_log
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditLogEntry{}
	for rows.Next() {
		var (
			e                       domain.AuditLogEntry
			entity, actor, ts, meta string
			dup                     int
		)
		if err := rows.Scan(&e.Seq, &e.ID, &entity, &e.EntityID, &e.Action,
			&e.OldValue, &e.NewValue, &e.Reason, &actor, &ts, &meta, &dup); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.EntityType = domain.EntityType(entity)
		if e.Actor, err = domain.ParseActor(actor); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		e.Duplicate = dup != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
