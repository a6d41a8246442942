// Package sqlite implements table.Store on top of SQLite (github.com/mattn/go-sqlite3).
//
// Every table of the store is one SQL table: the primary key is a TEXT PRIMARY KEY
// column, each index is a TEXT column with a secondary index and the record
// payload lives in a BLOB column named "data" (reserved, schemas may not use it).
//
// Transactions map 1:1 to SQL transactions. The database runs with a single
// connection, which serializes transactions and keeps ":memory:" databases
// consistent. Read-only mode is enforced by the table handles because the
// driver ignores sql.TxOptions.ReadOnly.
//
// Constraint violations reported by SQLite are translated into table.ErrConstraint.
package sqlite
