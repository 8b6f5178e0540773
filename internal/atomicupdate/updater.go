package atomicupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/flowguard/internal/clock"
	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/ids"
	"github.com/roach88/flowguard/internal/notify"
	"github.com/roach88/flowguard/internal/store"
)

// Change is what a mutation function did to the session it was handed.
type Change struct {
	OldValue string
	NewValue string

	// AuditOnly skips the row update; only the audit entry is written.
	AuditOnly bool
	// Duplicate marks the audit entry as a replay.
	Duplicate bool

	// Entity and Action override the mutation's defaults when set.
	Entity domain.EntityType
	Action string
	Reason string

	// Metadata is merged over Mutation.Metadata.
	Metadata map[string]any
}

// Func applies field changes to s, which was read inside tx. Returning an
// error aborts the transaction and the error is returned unchanged.
type Func func(ctx context.Context, tx *store.Tx, s *domain.Session) (Change, error)

// Mutation describes one atomic change to a session.
type Mutation struct {
	SessionID string
	Entity    domain.EntityType
	Action    string
	Actor     domain.Actor
	Reason    string
	Metadata  map[string]any

	// NotifyOnFailure sends both participants a "nothing was changed" notice
	// when the mutation aborts.
	NotifyOnFailure bool

	Apply Func
}

// Result is a committed mutation.
type Result struct {
	Before  *domain.Session
	Session *domain.Session
	Change  Change
	Audit   domain.AuditLogEntry
}

// Updater runs mutations against a store.
type Updater struct {
	store    *store.Store
	clock    clock.Clock
	ids      ids.Generator
	notifier notify.Notifier
}

// New creates an Updater. A nil notifier disables failure notices.
func New(st *store.Store, clk clock.Clock, gen ids.Generator, n notify.Notifier) *Updater {
	return &Updater{store: st, clock: clk, ids: gen, notifier: n}
}

// Store returns the underlying store for read paths.
func (u *Updater) Store() *store.Store { return u.store }

// Clock returns the updater's clock.
func (u *Updater) Clock() clock.Clock { return u.clock }

// Apply runs m in a single transaction.
func (u *Updater) Apply(ctx context.Context, m Mutation) (*Result, error) {
	res, contact, err := u.apply(ctx, m)
	if err != nil {
		slog.DebugContext(ctx, "mutation aborted",
			"session_id", m.SessionID,
			"action", m.Action,
			"actor", m.Actor,
			"error", err,
		)
		if m.NotifyOnFailure && contact != nil {
			notify.Send(ctx, u.notifier, notify.NothingChanged(*contact, m.Action, u.clock.Now())...)
		}
		return nil, err
	}
	return res, nil
}

func (u *Updater) apply(ctx context.Context, m Mutation) (*Result, *notify.Contact, error) {
	tx, err := u.store.Begin(ctx)
	if err != nil {
		return nil, nil, u.rollbackError(m, err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := tx.GetSession(ctx, m.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: session %s: %w", m.Action, m.SessionID, err)
	}
	if err != nil {
		return nil, nil, u.rollbackError(m, err)
	}
	contact := &notify.Contact{SessionID: current.ID, ClientID: current.ClientID, TherapistID: current.TherapistID}

	before := *current
	working := *current
	ch, err := m.Apply(ctx, tx, &working)
	if err != nil {
		return nil, contact, err
	}

	now := u.clock.Now()
	if !ch.AuditOnly {
		working.Version = before.Version + 1
		working.UpdatedAt = now
		if err := tx.UpdateSession(ctx, &working, before.Version); err != nil {
			return nil, contact, u.rollbackError(m, err)
		}
	} else {
		working = before
	}

	entry := u.entry(m, ch, now)
	if err := tx.AppendAudit(ctx, &entry); err != nil {
		return nil, contact, u.rollbackError(m, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, contact, u.rollbackError(m, err)
	}

	slog.DebugContext(ctx, "mutation committed",
		"session_id", m.SessionID,
		"action", entry.Action,
		"old", entry.OldValue,
		"new", entry.NewValue,
		"audit_only", ch.AuditOnly,
		"duplicate", ch.Duplicate,
	)
	return &Result{Before: &before, Session: &working, Change: ch, Audit: entry}, contact, nil
}

func (u *Updater) entry(m Mutation, ch Change, now time.Time) domain.AuditLogEntry {
	entity := m.Entity
	if ch.Entity != "" {
		entity = ch.Entity
	}
	action := m.Action
	if ch.Action != "" {
		action = ch.Action
	}
	reason := m.Reason
	if ch.Reason != "" {
		reason = ch.Reason
	}
	var meta map[string]any
	if len(m.Metadata) > 0 || len(ch.Metadata) > 0 {
		meta = make(map[string]any, len(m.Metadata)+len(ch.Metadata))
		maps.Copy(meta, m.Metadata)
		maps.Copy(meta, ch.Metadata)
	}
	return domain.AuditLogEntry{
		ID:         u.ids.NewID(),
		EntityType: entity,
		EntityID:   m.SessionID,
		Action:     action,
		OldValue:   ch.OldValue,
		NewValue:   ch.NewValue,
		Reason:     reason,
		Actor:      m.Actor,
		Timestamp:  now,
		Metadata:   meta,
		Duplicate:  ch.Duplicate,
	}
}

func (u *Updater) rollbackError(m Mutation, err error) error {
	slog.Error("transaction rolled back",
		"session_id", m.SessionID,
		"action", m.Action,
		"error", err,
	)
	return &RollbackError{SessionID: m.SessionID, Action: m.Action, Err: err}
}

// Create stores a new session together with its creation audit entry.
func (u *Updater) Create(ctx context.Context, s *domain.Session, actor domain.Actor, reason string) (*Result, error) {
	m := Mutation{SessionID: s.ID, Entity: domain.EntitySession, Action: domain.AuditSessionCreated, Actor: actor, Reason: reason}

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return nil, u.rollbackError(m, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.InsertSession(ctx, s); err != nil {
		return nil, u.rollbackError(m, err)
	}
	ch := Change{
		NewValue: s.Status.String(),
		Metadata: map[string]any{
			"client_id":    s.ClientID,
			"therapist_id": s.TherapistID,
			"scheduled_at": s.ScheduledAt,
			"price":        s.Price,
			"currency":     s.Currency,
		},
	}
	entry := u.entry(m, ch, u.clock.Now())
	if err := tx.AppendAudit(ctx, &entry); err != nil {
		return nil, u.rollbackError(m, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, u.rollbackError(m, err)
	}
	created := *s
	return &Result{Session: &created, Change: ch, Audit: entry}, nil
}

// Record appends a standalone audit entry that is not tied to a session row,
// such as enforcement changes.
func (u *Updater) Record(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	if entry.ID == "" {
		entry.ID = u.ids.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = u.clock.Now()
	}
	if err := u.store.AppendAudit(ctx, &entry); err != nil {
		return entry, fmt.Errorf("record audit: %w", err)
	}
	return entry, nil
}
