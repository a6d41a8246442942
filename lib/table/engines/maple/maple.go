package maple

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/table/engines/maple/internal"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for the snapshot file format
const (
	magicNum       = "MAPLETBL" // File format identifier
	mapleVersion   = 1          // Snapshot version
	snapshotSuffix = ".maple"   // File suffix used by Opener
)

// --------------------------------------------------------------------------
// Core Maple store structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory transactional table store
type mapleImpl struct {
	tables       *xsync.MapOf[string, *internal.Table]
	snapshotPath string
	closed       atomic.Bool
}

// StoreOptions configures the mapleImpl behavior during initialization
type StoreOptions struct {
	// SnapshotPath is loaded on open (if the file exists) and written on Close.
	// Empty means the store is purely in-memory.
	SnapshotPath string
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *StoreOptions {
	return &StoreOptions{}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleStore creates a new maple store with the specified options (optional).
// If a snapshot path is configured and the file exists, it is loaded.
func NewMapleStore(opts *StoreOptions) (table.Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	store := &mapleImpl{
		tables:       xsync.NewMapOf[string, *internal.Table](),
		snapshotPath: opts.SnapshotPath,
	}

	if opts.SnapshotPath == "" {
		return store, nil
	}

	f, err := os.Open(opts.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	} else if err != nil {
		return nil, fmt.Errorf("maple: open snapshot: %w", err)
	}
	defer f.Close()

	if err := store.Load(f); err != nil {
		return nil, fmt.Errorf("maple: load snapshot %s: %w", opts.SnapshotPath, err)
	}
	Logger.Infof("loaded snapshot %s", opts.SnapshotPath)

	return store, nil
}

// Opener returns a table.Opener creating one maple store per name.
// If dir is not empty each store is persisted to dir/<name>.maple.
func Opener(dir string) table.Opener {
	return func(name string) (table.Store, error) {
		opts := DefaultOptions()
		if dir != "" {
			opts.SnapshotPath = filepath.Join(dir, name+snapshotSuffix)
		}
		return NewMapleStore(opts)
	}
}

// --------------------------------------------------------------------------
// Store Interface Methods
// --------------------------------------------------------------------------

// CreateTable creates a new table if it does not exist yet.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) CreateTable(name string, schema table.Schema) error {
	if maple.closed.Load() {
		return table.ErrClosed
	}
	if name == "" || schema.PrimaryKey == "" {
		return fmt.Errorf("maple: table name and primary key are required")
	}

	t, loaded := maple.tables.LoadOrStore(name, internal.NewTable(name, schema))
	if loaded && !t.Schema.Equal(schema) {
		return fmt.Errorf("%w: %s", table.ErrSchemaChanged, name)
	}
	return nil
}

// Transaction runs fn over the given tables. The tables are locked in name order,
// shared for ModeRead and exclusive for ModeReadWrite, until fn returns.
// Every write is recorded in an undo log which is replayed in reverse if fn fails.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Transaction(ctx context.Context, mode table.Mode, names []string, fn func(tx table.Tx) error) (err error) {
	if maple.closed.Load() {
		return table.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// resolve the scope (duplicates are ignored, they would deadlock the locks)
	scope := make(map[string]*internal.Table, len(names))
	list := make([]*internal.Table, 0, len(names))
	for _, name := range names {
		if _, dup := scope[name]; dup {
			continue
		}
		t, ok := maple.tables.Load(name)
		if !ok {
			return fmt.Errorf("%w: %s", table.ErrTableNotFound, name)
		}
		scope[name] = t
		list = append(list, t)
	}

	unlock := internal.LockAll(list, mode == table.ModeReadWrite)
	defer unlock()

	tx := &txImpl{mode: mode, scope: scope}

	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	err = fn(tx)
	tx.done = true

	if err == nil {
		// a canceled context aborts the commit, same as for sql based engines
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// SupportsFeature checks if this implementation supports a specific feature
func (maple *mapleImpl) SupportsFeature(feature table.Feature) bool {
	supportedFeatures := table.FeatureTransactions |
		table.FeatureIndexes |
		table.FeatureSave |
		table.FeatureLoad
	return supportedFeatures&feature == feature
}

// Info returns the row count of every table
func (maple *mapleImpl) Info() (table.Info, error) {
	if maple.closed.Load() {
		return table.Info{}, table.ErrClosed
	}
	info := table.Info{
		Impl:   table.ImplMaple,
		Tables: make(map[string]int),
		SupportedFeatures: []table.Feature{
			table.FeatureTransactions, table.FeatureIndexes,
			table.FeatureSave, table.FeatureLoad,
		},
	}
	maple.tables.Range(func(name string, t *internal.Table) bool {
		info.Tables[name] = t.Rows.Size()
		return true
	})
	return info, nil
}

// Close writes the snapshot (if configured) and closes the store
func (maple *mapleImpl) Close() error {
	if !maple.closed.CompareAndSwap(false, true) {
		return nil
	}
	if maple.snapshotPath == "" {
		return nil
	}
	if err := maple.writeSnapshotFile(maple.snapshotPath); err != nil {
		return fmt.Errorf("maple: write snapshot: %w", err)
	}
	Logger.Infof("wrote snapshot %s", maple.snapshotPath)
	return nil
}

// writeSnapshotFile saves into a temporary file and renames it, so a crash
// never leaves a truncated snapshot behind
func (maple *mapleImpl) writeSnapshotFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := maple.save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists all tables to the writer.
// The snapshot is taken inside a read transaction over every table and is
// therefore consistent with respect to completed transactions.
//
// Thread-safety: This method is thread-safe, it blocks writers until it is done.
func (maple *mapleImpl) Save(w io.Writer) error {
	if maple.closed.Load() {
		return table.ErrClosed
	}
	return maple.save(w)
}

func (maple *mapleImpl) save(w io.Writer) error {
	var tables []*internal.Table
	maple.tables.Range(func(_ string, t *internal.Table) bool {
		tables = append(tables, t)
		return true
	})
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	unlock := internal.LockAll(tables, false)
	defer unlock()

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(tables))); err != nil {
		return err
	}

	for _, t := range tables {
		// Write table header
		if err := writeString(bw, t.Name); err != nil {
			return err
		}
		if err := writeString(bw, t.Schema.PrimaryKey); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(t.Schema.Indexes))); err != nil {
			return err
		}
		for _, idx := range t.Schema.Indexes {
			if err := writeString(bw, idx); err != nil {
				return err
			}
		}

		// Collect rows first, the count has to be written before the rows
		type rowToSave struct {
			id  string
			row internal.Row
		}
		var rows []rowToSave
		t.Rows.Range(func(id string, row internal.Row) bool {
			rows = append(rows, rowToSave{id, row})
			return true
		})

		if err := binary.Write(bw, binary.LittleEndian, uint64(len(rows))); err != nil {
			return err
		}
		for _, r := range rows {
			if err := writeString(bw, r.id); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(r.row.Attrs))); err != nil {
				return err
			}
			for k, v := range r.row.Attrs {
				if err := writeString(bw, k); err != nil {
					return err
				}
				if err := writeString(bw, v); err != nil {
					return err
				}
			}
			if err := writeBytes(bw, r.row.Data); err != nil {
				return err
			}
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces all tables with the content of the reader
//
// Thread-safety: This function is not thread-safe and must not run concurrently
// with transactions.
func (maple *mapleImpl) Load(r io.Reader) error {
	if maple.closed.Load() {
		return table.ErrClosed
	}

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var tableCount uint32
	if err := binary.Read(br, binary.LittleEndian, &tableCount); err != nil {
		return err
	}

	loaded := make([]*internal.Table, 0, min(tableCount, 1024))
	for i := uint32(0); i < tableCount; i++ {
		name, err := readString(br)
		if err != nil {
			return err
		}
		pk, err := readString(br)
		if err != nil {
			return err
		}
		var indexCount uint32
		if err := binary.Read(br, binary.LittleEndian, &indexCount); err != nil {
			return err
		}
		schema := table.Schema{PrimaryKey: pk}
		for j := uint32(0); j < indexCount; j++ {
			idx, err := readString(br)
			if err != nil {
				return err
			}
			schema.Indexes = append(schema.Indexes, idx)
		}

		t := internal.NewTable(name, schema)

		var rowCount uint64
		if err := binary.Read(br, binary.LittleEndian, &rowCount); err != nil {
			return err
		}
		for j := uint64(0); j < rowCount; j++ {
			id, err := readString(br)
			if err != nil {
				return err
			}
			var attrCount uint32
			if err := binary.Read(br, binary.LittleEndian, &attrCount); err != nil {
				return err
			}
			var attrs map[string]string
			if attrCount > 0 {
				attrs = make(map[string]string, min(attrCount, 64))
			}
			for k := uint32(0); k < attrCount; k++ {
				key, err := readString(br)
				if err != nil {
					return err
				}
				val, err := readString(br)
				if err != nil {
					return err
				}
				attrs[key] = val
			}
			data, err := readBytes(br)
			if err != nil {
				return err
			}
			t.Put(id, internal.Row{Attrs: attrs, Data: data})
		}
		loaded = append(loaded, t)
	}

	// swap the table registry only after the whole snapshot was read
	maple.tables.Clear()
	for _, t := range loaded {
		maple.tables.Store(t.Name, t)
	}
	return nil
}

// --------------------------------------------------------------------------
// Encoding Helpers
// --------------------------------------------------------------------------

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

// readChunk bounds the allocation made up front for one length prefixed field,
// larger fields grow with the data actually read
const readChunk = 1 << 20

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n <= readChunk {
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
