package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-sqlite3"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("sqlite")

const (
	dataColumn = "data"
	fileSuffix = ".db"
)

// sqliteImpl implements table.Store on a SQLite database.
// Every table of the store is one SQL table with the primary key column,
// one TEXT column per index and a BLOB data column.
type sqliteImpl struct {
	db      *sql.DB
	path    string
	schemas *xsync.MapOf[string, table.Schema]
	closed  atomic.Bool
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Use ":memory:" for a private in-memory database.
func Open(path string) (table.Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, a single connection also keeps
	// ":memory:" databases from being split over several connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	Logger.Debugf("opened database %s", path)

	return &sqliteImpl{
		db:      db,
		path:    path,
		schemas: xsync.NewMapOf[string, table.Schema](),
	}, nil
}

// Opener returns a table.Opener storing each named store in dir/<name>.db
func Opener(dir string) table.Opener {
	return func(name string) (table.Store, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return Open(filepath.Join(dir, name+fileSuffix))
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Store Interface Methods (docu see table.Store)
// --------------------------------------------------------------------------

func (s *sqliteImpl) CreateTable(name string, schema table.Schema) error {
	if s.closed.Load() {
		return table.ErrClosed
	}
	if name == "" || schema.PrimaryKey == "" {
		return fmt.Errorf("sqlite: table name and primary key are required")
	}
	if schema.HasField(dataColumn) {
		return fmt.Errorf("sqlite: field name %q is reserved", dataColumn)
	}
	if known, ok := s.schemas.Load(name); ok {
		if !known.Equal(schema) {
			return fmt.Errorf("%w: %s", table.ErrSchemaChanged, name)
		}
		return nil
	}

	// the table may exist from an earlier run, compare its columns
	existing, err := s.readSchema(name)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Equal(schema) {
		return fmt.Errorf("%w: %s", table.ErrSchemaChanged, name)
	}

	columns := []string{fmt.Sprintf("%s TEXT PRIMARY KEY", quoteIdent(schema.PrimaryKey))}
	for _, idx := range schema.Indexes {
		columns = append(columns, fmt.Sprintf("%s TEXT", quoteIdent(idx)))
	}
	columns = append(columns, fmt.Sprintf("%s BLOB", quoteIdent(dataColumn)))

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(name), strings.Join(columns, ", ")),
	}
	for _, idx := range schema.Indexes {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("idx_"+name+"_"+idx), quoteIdent(name), quoteIdent(idx)))
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}

	s.schemas.Store(name, schema)
	return nil
}

// readSchema returns the schema of an existing table, or nil if the table does not exist
func (s *sqliteImpl) readSchema(name string) (*table.Schema, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", name, err)
	}
	defer rows.Close()

	var (
		schema table.Schema
		found  bool
	)
	for rows.Next() {
		var (
			cid       int
			colName   string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("read schema of %s: %w", name, err)
		}
		found = true
		switch {
		case pk > 0:
			schema.PrimaryKey = colName
		case colName == dataColumn:
		default:
			schema.Indexes = append(schema.Indexes, colName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", name, err)
	}
	if !found {
		return nil, nil
	}
	return &schema, nil
}

func (s *sqliteImpl) Transaction(ctx context.Context, mode table.Mode, names []string, fn func(tx table.Tx) error) (err error) {
	if s.closed.Load() {
		return table.ErrClosed
	}

	scope := make(map[string]table.Schema, len(names))
	for _, name := range names {
		schema, ok := s.schemas.Load(name)
		if !ok {
			return fmt.Errorf("%w: %s", table.ErrTableNotFound, name)
		}
		scope[name] = schema
	}

	// mattn/go-sqlite3 ignores TxOptions.ReadOnly, read-only is enforced by the handles
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	tx := &txImpl{ctx: ctx, tx: sqlTx, mode: mode, scope: scope}
	err = fn(tx)
	tx.done = true
	if err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqliteImpl) SupportsFeature(feature table.Feature) bool {
	supportedFeatures := table.FeatureTransactions | table.FeatureIndexes
	return supportedFeatures&feature == feature
}

func (s *sqliteImpl) Info() (table.Info, error) {
	if s.closed.Load() {
		return table.Info{}, table.ErrClosed
	}
	info := table.Info{
		Impl:              table.ImplSQLite,
		Tables:            make(map[string]int),
		SupportedFeatures: []table.Feature{table.FeatureTransactions, table.FeatureIndexes},
	}

	var names []string
	s.schemas.Range(func(name string, _ table.Schema) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	for _, name := range names {
		var n int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(name))).Scan(&n); err != nil {
			return table.Info{}, fmt.Errorf("count %s: %w", name, err)
		}
		info.Tables[name] = n
	}
	return info, nil
}

func (s *sqliteImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// quoteIdent quotes a SQL identifier, table names may contain '-' or '/'
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// mapError converts SQLite constraint errors into table.ErrConstraint
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s: %v", table.ErrConstraint, fmt.Sprintf(format, args...), err)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
