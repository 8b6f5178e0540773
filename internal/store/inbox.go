package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WebhookStatus is the processing outcome of an inbox row.
type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookFailed    WebhookStatus = "failed"
	WebhookRejected  WebhookStatus = "rejected"
)

// WebhookRecord is a raw gateway delivery, stored before processing so the
// payload survives a failed or rolled-back mutation.
type WebhookRecord struct {
	ID                int64
	ReceivedAt        time.Time
	CheckoutReference string
	Fingerprint       string
	SignatureValid    bool
	Payload           string
	Status            WebhookStatus
	Error             string
	ProcessedAt       *time.Time
}

// RecordWebhook durably stores a delivery with status received and returns
// its id.
func (s *Store) RecordWebhook(ctx context.Context, rec WebhookRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_inbox
		(received_at, checkout_reference, fingerprint, signature_valid, payload, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		formatTime(rec.ReceivedAt),
		rec.CheckoutReference,
		rec.Fingerprint,
		boolInt(rec.SignatureValid),
		rec.Payload,
		string(WebhookReceived),
	)
	if err != nil {
		return 0, fmt.Errorf("record webhook: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record webhook: last insert id: %w", err)
	}
	return id, nil
}

// MarkWebhook records the processing outcome of an inbox row.
func (s *Store) MarkWebhook(ctx context.Context, id int64, status WebhookStatus, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhook_inbox SET status = ?, error = ?, processed_at = ?
		WHERE id = ?
	`, string(status), errMsg, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark webhook %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark webhook %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark webhook %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListWebhooks returns inbox rows, newest first. An empty status lists all.
func (s *Store) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]WebhookRecord, error) {
	query := `
		SELECT id, received_at, checkout_reference, fingerprint, signature_valid, payload, status, error, processed_at
		FROM webhook_inbox`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	records := []WebhookRecord{}
	for rows.Next() {
		var (
			rec         WebhookRecord
			receivedAt  string
			status      string
			sigValid    int
			processedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &receivedAt, &rec.CheckoutReference, &rec.Fingerprint,
			&sigValid, &rec.Payload, &status, &rec.Error, &processedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		if rec.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		if rec.ProcessedAt, err = scanNullTime(processedAt); err != nil {
			return nil, err
		}
		rec.SignatureValid = sigValid != 0
		rec.Status = WebhookStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return records, nil
}
