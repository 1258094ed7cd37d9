// Package store provides persistent storage for consent state using SQLite.
//
// # Architecture
//
// The package defines one interface, ConsentLedger, implemented by
// SQLiteStore. The ledger holds two kinds of rows:
//
//   - AccessGrant: a client's authorization, scoped by capability and
//     domain, with optional expiry
//   - AuditEntry: an append-only record of consent decisions and accesses
//
// Grant mutations that must be audited (create, revoke) run the grant
// write and the audit append inside a single transaction, so callers never
// observe a grant without its audit record.
//
// # Expiry
//
// Grants are never evicted in the background. Expiry is evaluated at read
// time: ListActiveGrants and HasActiveGrant exclude rows whose expires_at
// has passed, while GetGrant still returns them for direct inspection.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Scope and domain sets are stored as JSON arrays and queried with the
// json_each table-valued function. Timestamps are RFC3339 TEXT in UTC.
//
// # Error Handling
//
// ErrNotFound is returned for absent entities where a lookup contract
// exists; deletes report a boolean instead of erroring on absent rows.
// All methods accept context.Context for cancellation support.
package store
