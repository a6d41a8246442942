package table

import (
	"context"
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplSQLite Implementation = "sqlite"
)

// Feature represents store features as bit flags
type Feature uint64

const (
	FeatureTransactions Feature = 1 << iota // Support for atomic multi-table transactions
	FeatureIndexes                          // Support for Where lookups on secondary indexes
	FeatureSave                             // Support for Save operations
	FeatureLoad                             // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureTransactions:
		return "Transactions"
	case FeatureIndexes:
		return "Indexes"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

// Mode selects the isolation scope of a transaction
type Mode uint8

const (
	ModeRead      Mode = iota // shared access, writes are rejected
	ModeReadWrite             // exclusive access to every table in scope
)

func (m Mode) String() string {
	if m == ModeReadWrite {
		return "rw"
	}
	return "r"
}

// Schema describes the named fields of a table.
// PrimaryKey names the unique Record.ID field, Indexes name attributes
// that can be queried with Table.Where.
type Schema struct {
	PrimaryKey string   `json:"primary_key" yaml:"primary_key"`
	Indexes    []string `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// HasField reports whether field is the primary key or one of the indexes
func (s Schema) HasField(field string) bool {
	if field == s.PrimaryKey {
		return true
	}
	for _, idx := range s.Indexes {
		if idx == field {
			return true
		}
	}
	return false
}

// Equal reports whether two schemas describe the same fields in the same order
func (s Schema) Equal(o Schema) bool {
	if s.PrimaryKey != o.PrimaryKey || len(s.Indexes) != len(o.Indexes) {
		return false
	}
	for i := range s.Indexes {
		if s.Indexes[i] != o.Indexes[i] {
			return false
		}
	}
	return true
}

// Record is a single row. ID is unique within its table, Attrs holds the
// values of the indexed fields and Data is an opaque payload.
type Record struct {
	ID    string
	Attrs map[string]string
	Data  []byte
}

// Field returns the value of a named field of the record
func (r Record) Field(s Schema, field string) string {
	if field == s.PrimaryKey {
		return r.ID
	}
	return r.Attrs[field]
}

type Info struct {
	Impl              Implementation `json:"impl" yaml:"impl"`
	Tables            map[string]int `json:"tables" yaml:"tables"` // table name -> row count
	SupportedFeatures []Feature      `json:"supported_features" yaml:"supported_features"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrTableNotFound = errors.New("table: table not found")
	ErrSchemaChanged = errors.New("table: table exists with a different schema")
	ErrConstraint    = errors.New("table: constraint violation")
	ErrReadOnly      = errors.New("table: write in read-only transaction")
	ErrOutOfScope    = errors.New("table: table is not part of the transaction")
	ErrUnknownField  = errors.New("table: unknown field")
	ErrTxDone        = errors.New("table: transaction already finished")
	ErrClosed        = errors.New("table: store is closed")
)

// --------------------------------------------------------------------------
// Store Interface
// --------------------------------------------------------------------------

// Opener creates or opens the store with the given name.
// The name identifies one database, each engine maps it to its own location.
type Opener func(name string) (Store, error)

// Store is a collection of named tables with ACID transactions spanning
// any subset of them.
type Store interface {
	// CreateTable provisions a table. Creating an existing table with the same
	// schema is a no-op, a different schema fails with ErrSchemaChanged.
	CreateTable(name string, schema Schema) (err error)

	// Transaction runs fn with atomicity and isolation over the given tables.
	// If fn returns an error (or panics) every write done through tx is rolled
	// back and the error is returned unchanged. The tx must not be used after
	// fn returns. Transactions must not be nested on the same store.
	Transaction(ctx context.Context, mode Mode, tables []string, fn func(tx Tx) error) (err error)

	// SupportsFeature checks if the store supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// Info returns the implementation and the row count of every table.
	Info() (info Info, err error)

	// Close releases the store. No further operations are valid.
	Close() (err error)
}

// Persister is implemented by stores that can write and restore a full snapshot
type Persister interface {
	Save(w io.Writer) (err error)
	Load(r io.Reader) (err error)
}

// Tx gives access to the tables of one running transaction
type Tx interface {
	Mode() Mode
	Table(name string) (Table, error)
}

// Table holds the per-table operations available inside a transaction.
type Table interface {
	Name() string
	Schema() Schema

	// Get returns the record with the given primary key.
	Get(id string) (rec Record, ok bool, err error)

	// Where returns every record whose field equals value. The field must be
	// the primary key or an index, else ErrUnknownField is returned.
	Where(field, value string) (recs []Record, err error)

	// Add inserts a record, a duplicate id fails with ErrConstraint.
	Add(rec Record) (err error)

	// BulkAdd inserts all records, failing on the first duplicate id.
	BulkAdd(recs []Record) (err error)

	// BulkDelete removes the records with the given ids. Missing ids are ignored.
	BulkDelete(ids []string) (err error)

	// Clear removes every record of the table.
	Clear() (err error)

	// Count returns the number of records.
	Count() (n int, err error)

	// Scan calls fn for every record until fn returns false. Order is unspecified.
	Scan(fn func(rec Record) bool) (err error)
}

// CopyRecord returns a deep copy of rec
func CopyRecord(rec Record) Record {
	out := Record{ID: rec.ID}
	if rec.Data != nil {
		out.Data = make([]byte, len(rec.Data))
		copy(out.Data, rec.Data)
	}
	if rec.Attrs != nil {
		out.Attrs = make(map[string]string, len(rec.Attrs))
		for k, v := range rec.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}
