// Package atomicupdate wraps every session mutation and its audit entry in
// one store transaction.
//
// Apply re-reads the session inside the transaction, so validators always see
// the committed state, then writes the row with an optimistic version check
// and appends exactly one audit entry before committing. Either both the new
// state and its audit entry are durable or neither is.
//
// Audit-only mutations (duplicate callbacks, stale results, rejected
// requests kept for the record) skip the row update but still append.
package atomicupdate
