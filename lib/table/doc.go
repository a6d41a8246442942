// Package table defines the transactional table store that dMap is built on.
// It describes the contract only: a Store holds named tables and runs
// transactions over any subset of them. Engines live in the engines
// subpackages and are interchangeable.
//
// The package focuses on:
//   - A small CRUD surface per table (Get, Where, Add, BulkAdd, BulkDelete, Clear, Count, Scan)
//   - Transactions with a declared table scope and a read or read-write mode
//   - Feature discovery through capability flags
//   - Standardized error values shared by all engines
//
// Key Components:
//
//   - Store Interface: Provisions tables (CreateTable is idempotent) and runs
//     transactions. A transaction body that fails rolls back every write it made,
//     so callers never observe partial mutations.
//
//   - Tx and Table: Handles only valid inside a transaction body. Accessing a
//     table outside the declared scope fails with ErrOutOfScope, writing in a
//     read transaction fails with ErrReadOnly.
//
//   - Schema and Record: A table has a primary key field (Record.ID) and
//     optional indexed attributes (Record.Attrs) that Where can query by equality.
//     Record.Data is opaque to the store.
//
//   - Feature Flags: Engines advertise what they support (for example Save/Load
//     snapshots) via SupportsFeature.
//
// Implementations:
//
//   - maple (github.com/ValentinKolb/dMap/lib/table/engines/maple): in-memory
//     engine with ordered table locks, an undo log and binary snapshots.
//
//   - sqlite (github.com/ValentinKolb/dMap/lib/table/engines/sqlite): durable
//     engine on SQLite in WAL mode.
//
// The testing package (github.com/ValentinKolb/dMap/lib/table/testing) provides
// the conformance suite every engine runs (RunStoreTests) and shared benchmarks.
package table
