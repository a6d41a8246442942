// Package maple implements an in-memory transactional table store. It provides
// a complete implementation of the table.Store interface with a focus on
// predictable isolation and cheap rollback.
//
// The package focuses on:
//   - Concurrent row access through xsync.MapOf per table
//   - Serializable transactions over a declared set of tables
//   - Rollback through an undo log instead of copy-on-write
//   - Optional persistence with consistent binary snapshots
//
// Key Components:
//
//   - mapleImpl: The store itself. It keeps the table registry (an xsync.MapOf
//     of table name -> *internal.Table), opens transactions and writes or reads
//     snapshots.
//
//   - internal.Table: One named table. It holds its schema, the rows keyed by
//     primary key and a sync.RWMutex that a transaction holds for its whole
//     duration (shared for table.ModeRead, exclusive for table.ModeReadWrite).
//
//   - txImpl / tableImpl: The handles passed to a transaction body. Each write
//     appends an internal.Undo entry. If the body fails, panics or the context is
//     canceled before commit, the undo log is replayed in reverse order.
//
// Internal Mechanisms:
//
//   - Lock Ordering: Transactions lock their tables sorted by name. Two
//     transactions with overlapping scopes therefore always acquire the shared
//     locks in the same order and cannot deadlock.
//
//   - Index Lookups: Where on the primary key is a point lookup. Where on an
//     index scans the table and returns the matches ordered by id. Tables used
//     by dMap hold a bounded number of fragments, a scan is fine there.
//
//   - Persistence Format: Snapshots use a compact binary format:
//     1. Magic number "MAPLETBL" to identify the file format
//     2. Version number (currently 1)
//     3. Number of tables
//     4. For each table: name, primary key, indexes, row count and the rows
//     (id, attributes, data)
//     The snapshot is written while holding a shared lock on every table, so it
//     is a consistent cut with respect to completed transactions.
//
// Use NewMapleStore for a single store or Opener to create one store per name,
// optionally persisted to <dir>/<name>.maple on Close.
package maple
