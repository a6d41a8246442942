package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/dMap/lib/table"
)

// txImpl wraps one sql.Tx, it must only be used by the goroutine running the body
type txImpl struct {
	ctx   context.Context
	tx    *sql.Tx
	mode  table.Mode
	scope map[string]table.Schema
	done  bool
}

func (tx *txImpl) Mode() table.Mode {
	return tx.mode
}

func (tx *txImpl) Table(name string) (table.Table, error) {
	if tx.done {
		return nil, table.ErrTxDone
	}
	schema, ok := tx.scope[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", table.ErrOutOfScope, name)
	}
	return &tableImpl{tx: tx, name: name, schema: schema}, nil
}

// --------------------------------------------------------------------------
// Table Handle (docu see table.Table)
// --------------------------------------------------------------------------

type tableImpl struct {
	tx     *txImpl
	name   string
	schema table.Schema
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
		return fmt.Errorf("%w: %s", table.ErrReadOnly, h.name)
	}
	return nil
}

func (h *tableImpl) Name() string {
	return h.name
}

func (h *tableImpl) Schema() table.Schema {
	return h.schema
}

// columns returns the quoted select list: primary key, indexes, data
func (h *tableImpl) columns() string {
	cols := []string{quoteIdent(h.schema.PrimaryKey)}
	for _, idx := range h.schema.Indexes {
		cols = append(cols, quoteIdent(idx))
	}
	cols = append(cols, quoteIdent(dataColumn))
	return strings.Join(cols, ", ")
}

// scanRecord reads one row in the order of columns()
func (h *tableImpl) scanRecord(rows *sql.Rows) (table.Record, error) {
	var (
		id    string
		attrs = make([]sql.NullString, len(h.schema.Indexes))
		data  []byte
	)
	dest := []any{&id}
	for i := range attrs {
		dest = append(dest, &attrs[i])
	}
	dest = append(dest, &data)

	if err := rows.Scan(dest...); err != nil {
		return table.Record{}, err
	}

	rec := table.Record{ID: id, Data: data}
	for i, idx := range h.schema.Indexes {
		if attrs[i].Valid {
			if rec.Attrs == nil {
				rec.Attrs = make(map[string]string)
			}
			rec.Attrs[idx] = attrs[i].String
		}
	}
	return rec, nil
}

func (h *tableImpl) query(where string, args ...any) ([]table.Record, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", h.columns(), quoteIdent(h.name))
	if where != "" {
		q += " WHERE " + where
	}
	q += fmt.Sprintf(" ORDER BY %s", quoteIdent(h.schema.PrimaryKey))

	rows, err := h.tx.tx.QueryContext(h.tx.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", h.name, err)
	}
	defer rows.Close()

	var recs []table.Record
	for rows.Next() {
		rec, err := h.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", h.name, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", h.name, err)
	}
	return recs, nil
}

func (h *tableImpl) Get(id string) (table.Record, bool, error) {
	if err := h.checkRead(); err != nil {
		return table.Record{}, false, err
	}
	recs, err := h.query(fmt.Sprintf("%s = ?", quoteIdent(h.schema.PrimaryKey)), id)
	if err != nil || len(recs) == 0 {
		return table.Record{}, false, err
	}
	return recs[0], true, nil
}

func (h *tableImpl) Where(field, value string) ([]table.Record, error) {
	if err := h.checkRead(); err != nil {
		return nil, err
	}
	if !h.schema.HasField(field) {
		return nil, fmt.Errorf("%w: %s.%s", table.ErrUnknownField, h.name, field)
	}
	return h.query(fmt.Sprintf("%s = ?", quoteIdent(field)), value)
}

func (h *tableImpl) Add(rec table.Record) error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	for field := range rec.Attrs {
		if field == h.schema.PrimaryKey || !h.schema.HasField(field) {
			return fmt.Errorf("%w: %s.%s", table.ErrUnknownField, h.name, field)
		}
	}

	args := []any{rec.ID}
	placeholders := []string{"?"}
	for _, idx := range h.schema.Indexes {
		if v, ok := rec.Attrs[idx]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
		placeholders = append(placeholders, "?")
	}
	data := rec.Data
	if data == nil {
		data = []byte{}
	}
	args = append(args, data)
	placeholders = append(placeholders, "?")

	_, err := h.tx.tx.ExecContext(h.tx.ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(h.name), h.columns(), strings.Join(placeholders, ", ")),
		args...,
	)
	return mapError(err, "insert %q into %s", rec.ID, h.name)
}

func (h *tableImpl) BulkAdd(recs []table.Record) error {
	for _, rec := range recs {
		if err := h.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

// deleteBatchSize is the number of ids bound to one DELETE statement
const deleteBatchSize = 500

func (h *tableImpl) BulkDelete(ids []string) error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	// one statement per batch keeps the bound parameters below SQLITE_MAX_VARIABLE_NUMBER
	for start := 0; start < len(ids); start += deleteBatchSize {
		batch := ids[start:min(start+deleteBatchSize, len(ids))]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, id := range batch {
			placeholders[i] = "?"
			args[i] = id
		}
		_, err := h.tx.tx.ExecContext(h.tx.ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", quoteIdent(h.name), quoteIdent(h.schema.PrimaryKey), strings.Join(placeholders, ", ")),
			args...,
		)
		if err != nil {
			return mapError(err, "bulk delete from %s", h.name)
		}
	}
	return nil
}

func (h *tableImpl) Clear() error {
	if err := h.checkWrite(); err != nil {
		return err
	}
	_, err := h.tx.tx.ExecContext(h.tx.ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(h.name)))
	return mapError(err, "clear %s", h.name)
}

func (h *tableImpl) Count() (int, error) {
	if err := h.checkRead(); err != nil {
		return 0, err
	}
	var n int
	err := h.tx.tx.QueryRowContext(h.tx.ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(h.name))).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count %s: %w", h.name, err)
	}
	return n, nil
}

func (h *tableImpl) Scan(fn func(rec table.Record) bool) error {
	if err := h.checkRead(); err != nil {
		return err
	}
	recs, err := h.query("")
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !fn(rec) {
			break
		}
	}
	return nil
}
