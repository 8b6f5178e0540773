// Package store provides SQLite-backed persistence for booking sessions and
// their audit trail.
//
// The store satisfies the engine's persistence contract:
//   - Sessions: one row per aggregate, multi-field atomic commit-or-rollback
//     through Tx, optimistic concurrency on the version column
//   - Audit log: append-only (UPDATE and DELETE are rejected by triggers),
//     written in the same transaction as the state change it records
//   - Payment callbacks: UNIQUE(checkout_reference, result_code, receipt)
//     claimed inside the mutation transaction; a conflict means the callback
//     was already applied
//   - Checkout references: every reference a session was issued, so a
//     callback for a superseded prompt still resolves to its session
//   - Webhook inbox: raw gateway payloads, durable before processing starts
//
// # Ordering
//
// Audit entries are ordered by seq (INTEGER PRIMARY KEY AUTOINCREMENT),
// never by timestamp. All list queries include an explicit ORDER BY.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - a single open connection: SQLite has one writer, and a transaction
//     holding the connection serializes every other mutation
//
// Timestamps are stored as RFC 3339 text in UTC.
package store
