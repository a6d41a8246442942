package maple

import (
	"fmt"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/table/engines/maple/internal"
)

// txImpl is the transaction handle passed to a transaction body.
// It must only be used by the goroutine running the body.
type txImpl struct {
	mode  table.Mode
	scope map[string]*internal.Table
	undo  []internal.Undo
	done  bool
}

func (tx *txImpl) Mode() table.Mode {
	return tx.mode
}

func (tx *txImpl) Table(name string) (table.Table, error) {
	if tx.done {
		return nil, table.ErrTxDone
	}
	t, ok := tx.scope[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", table.ErrOutOfScope, name)
	}
	return &tableImpl{tx: tx, t: t}, nil
}

// rollback reverts all logged writes in reverse order
func (tx *txImpl) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i].Revert()
	}
	tx.undo = nil
	tx.done = true
}

// --------------------------------------------------------------------------
// Table Handle (docu see table.Table)
// --------------------------------------------------------------------------

type tableImpl struct {
	tx *txImpl
	t  *internal.Table
}

func (h *tableImpl) checkRead() error {
	if h.tx.done {
		return table.ErrTxDone
	}
	return nil
}

func (h *tableImpl) checkWrite() error {
	if err := h.checkRead(); err != nil {
		return err
	}
	if h.tx.mode != table.ModeReadWrite {
		return fmt.Errorf("%w: %s", table.ErrReadOnly, h.t.Name)
	}
	return nil
}

func (h *tableImpl) Name() string {
	return h.t.Name
}

func (h *tableImpl) Schema() table.Schema {
	return h.t.Schema
}

func (h *tableImpl) Get(id string) (table.Record, bool, error) {
	if err := h.checkRead(); err != nil {
		return table.Record{}, false, err
	}
	row, ok := h.t.Rows.Load(id)
	if !ok {
		return table.Record{}, false, nil
	}
	return row.Record(id), true, nil
}

// Where on the primary key is a point lookup, on an index it reads the index
func (h *tableImpl) Where(field, value string) ([]table.Record, error) {
	if err := h.checkRead(); err != nil {
		return nil, err
	}
	schema := h.t.Schema
	if !schema.HasField(field) {
		return nil, fmt.Errorf("%w: %s.%s", table.ErrUnknownField, h.t.Name, field)
	}

	if field == schema.PrimaryKey {
		rec, ok, err := h.Get(value)
		if err != nil || !ok {
			return nil, err
		}
		return []table.Record{rec}, nil
	}

	ids := h.t.Lookup(field, value)
	recs := make([]table.Record, 0, len(ids))
	for _, id := range ids {
		if row, ok := h.t.Rows.Load(id); ok {
			recs = append(recs, row.Record(id))
		}
	}
	return recs, nil
}

func (h *tableImpl) Add(rec table.Record) error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	for field := range rec.Attrs {
		if field == h.t.Schema.PrimaryKey || !h.t.Schema.HasField(field) {
			return fmt.Errorf("%w: %s.%s", table.ErrUnknownField, h.t.Name, field)
		}
	}

	// the table is exclusively locked, so load then store is atomic here
	if _, exists := h.t.Rows.Load(rec.ID); exists {
		return fmt.Errorf("%w: duplicate %s %q in %s", table.ErrConstraint, h.t.Schema.PrimaryKey, rec.ID, h.t.Name)
	}
	h.t.Put(rec.ID, internal.NewRow(rec))
	h.tx.undo = append(h.tx.undo, internal.Undo{Type: internal.UndoTInsert, Table: h.t, ID: rec.ID})
	return nil
}

func (h *tableImpl) BulkAdd(recs []table.Record) error {
	for _, rec := range recs {
		if err := h.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

func (h *tableImpl) BulkDelete(ids []string) error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	for _, id := range ids {
		h.delete(id)
	}
	return nil
}

func (h *tableImpl) delete(id string) {
	if row, loaded := h.t.Remove(id); loaded {
		h.tx.undo = append(h.tx.undo, internal.Undo{Type: internal.UndoTDelete, Table: h.t, ID: id, Row: row})
	}
}

func (h *tableImpl) Clear() error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	var ids []string
	h.t.Rows.Range(func(id string, _ internal.Row) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		h.delete(id)
	}
	return nil
}

func (h *tableImpl) Count() (int, error) {
	if err := h.checkRead(); err != nil {
		return 0, err
	}
	return h.t.Rows.Size(), nil
}

func (h *tableImpl) Scan(fn func(rec table.Record) bool) error {
	if err := h.checkRead(); err != nil {
		return err
	}
	h.t.Rows.Range(func(id string, row internal.Row) bool {
		return fn(row.Record(id))
	})
	return nil
}
