package internal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Undo Log Types are used to roll back a failed transaction
// --------------------------------------------------------------------------

type UndoType int

const (
	UndoTInsert UndoType = iota // row was inserted -> remove it
	UndoTDelete                 // row was removed -> restore it
)

func (u UndoType) String() string {
	switch u {
	case UndoTInsert:
		return "Insert"
	case UndoTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

type Undo struct {
	Type  UndoType
	Table *Table
	ID    string
	Row   Row // previous row for UndoTDelete
}

func (u Undo) String() string {
	return fmt.Sprintf("Undo{Type: %s, Table: %s, ID: %s}", u.Type, u.Table.Name, u.ID)
}

// Revert applies the inverse of the logged change
func (u Undo) Revert() {
	switch u.Type {
	case UndoTInsert:
		u.Table.Remove(u.ID)
	case UndoTDelete:
		u.Table.Put(u.ID, u.Row)
	}
}

// --------------------------------------------------------------------------
// Row Type (stored record without its id)
// --------------------------------------------------------------------------

// Row stores the data of one record. Rows are immutable once stored.
type Row struct {
	Attrs map[string]string
	Data  []byte
}

// NewRow copies the record into a row
func NewRow(rec table.Record) Row {
	c := table.CopyRecord(rec)
	return Row{Attrs: c.Attrs, Data: c.Data}
}

// Record returns a copy of the row as a record with the given id
func (r Row) Record(id string) table.Record {
	return table.CopyRecord(table.Record{ID: id, Attrs: r.Attrs, Data: r.Data})
}

// --------------------------------------------------------------------------
// Table Type (one named table of the store)
// --------------------------------------------------------------------------

// Table represents one table of the store
// Each table has its own lock, transactions hold it for their whole duration.
// Rows must only be changed through Put and Remove, they keep Index in sync.
type Table struct {
	Name   string
	Schema table.Schema
	Rows   *xsync.MapOf[string, Row]
	Index  map[string]*xsync.MapOf[string, map[string]struct{}] // field -> value -> ids
	Mu     sync.RWMutex
}

// NewTable creates a new empty table with one index per indexed field
func NewTable(name string, schema table.Schema) *Table {
	t := &Table{
		Name:   name,
		Schema: schema,
		Rows:   xsync.NewMapOf[string, Row](),
		Index:  make(map[string]*xsync.MapOf[string, map[string]struct{}], len(schema.Indexes)),
	}
	for _, field := range schema.Indexes {
		t.Index[field] = xsync.NewMapOf[string, map[string]struct{}]()
	}
	return t
}

// Put stores the row and adds it to the indexes.
// The caller must hold the exclusive lock (or own the table exclusively).
func (t *Table) Put(id string, row Row) {
	if old, loaded := t.Rows.LoadAndStore(id, row); loaded {
		t.unindex(id, old)
	}
	for field, idx := range t.Index {
		value, ok := row.Attrs[field]
		if !ok {
			continue
		}
		idx.Compute(value, func(ids map[string]struct{}, loaded bool) (map[string]struct{}, bool) {
			if !loaded {
				ids = make(map[string]struct{}, 1)
			}
			ids[id] = struct{}{}
			return ids, false
		})
	}
}

// Remove deletes the row and removes it from the indexes.
// The caller must hold the exclusive lock.
func (t *Table) Remove(id string) (Row, bool) {
	row, loaded := t.Rows.LoadAndDelete(id)
	if loaded {
		t.unindex(id, row)
	}
	return row, loaded
}

func (t *Table) unindex(id string, row Row) {
	for field, idx := range t.Index {
		value, ok := row.Attrs[field]
		if !ok {
			continue
		}
		idx.Compute(value, func(ids map[string]struct{}, loaded bool) (map[string]struct{}, bool) {
			if !loaded {
				return nil, true
			}
			delete(ids, id)
			return ids, len(ids) == 0
		})
	}
}

// Lookup returns the sorted ids of all rows whose indexed field equals value
func (t *Table) Lookup(field, value string) []string {
	idx, ok := t.Index[field]
	if !ok {
		return nil
	}
	set, ok := idx.Load(value)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LockAll acquires the locks of all tables (shared or exclusive) in name order
// and returns the function that releases them.
// The fixed order prevents deadlocks between transactions with overlapping scopes.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func LockAll(tables []*Table, exclusive bool) (unlock func()) {
	sorted := make([]*Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, t := range sorted {
		if exclusive {
			t.Mu.Lock()
		} else {
			t.Mu.RLock()
		}
	}

	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			if exclusive {
				sorted[i].Mu.Unlock()
			} else {
				sorted[i].Mu.RUnlock()
			}
		}
	}
}
