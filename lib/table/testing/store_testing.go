package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory is a function that creates a new, empty instance of a table.Store implementation
type StoreFactory func() table.Store

var (
	tableA = "table-a"
	tableB = "table-b"
	schema = table.Schema{PrimaryKey: "id", Indexes: []string{"key"}}
)

// RunStoreTests runs the conformance suite for a table.Store implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateTable", func(t *testing.T) {
			testCreateTable(t, factory())
		})

		t.Run("Add&Get", func(t *testing.T) {
			testAddGet(t, factory())
		})

		t.Run("Where", func(t *testing.T) {
			testWhere(t, factory())
		})

		t.Run("BulkOperations", func(t *testing.T) {
			testBulkOperations(t, factory())
		})

		t.Run("BulkDeleteLarge", func(t *testing.T) {
			testBulkDeleteLarge(t, factory())
		})

		t.Run("ClearCountScan", func(t *testing.T) {
			testClearCountScan(t, factory())
		})

		t.Run("Scope", func(t *testing.T) {
			testScope(t, factory())
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("IndexAfterRollback", func(t *testing.T) {
			testIndexAfterRollback(t, factory())
		})

		t.Run("RollbackOnPanic", func(t *testing.T) {
			testRollbackOnPanic(t, factory())
		})

		t.Run("CanceledContext", func(t *testing.T) {
			testCanceledContext(t, factory())
		})

		t.Run("Isolation", func(t *testing.T) {
			testIsolation(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the store supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, store table.Store, feature table.Feature) {
	if !store.SupportsFeature(feature) {
		t.Skip()
	}
}

// setup creates tableA and tableB with the default schema
func setup(t testing.TB, store table.Store) {
	require.NoError(t, store.CreateTable(tableA, schema))
	require.NoError(t, store.CreateTable(tableB, schema))
}

// write runs fn in a read-write transaction over both tables
func write(store table.Store, fn func(a, b table.Table) error) error {
	return store.Transaction(context.Background(), table.ModeReadWrite, []string{tableA, tableB}, func(tx table.Tx) error {
		a, err := tx.Table(tableA)
		if err != nil {
			return err
		}
		b, err := tx.Table(tableB)
		if err != nil {
			return err
		}
		return fn(a, b)
	})
}

// read runs fn in a read transaction over both tables
func read(store table.Store, fn func(a, b table.Table) error) error {
	return store.Transaction(context.Background(), table.ModeRead, []string{tableA, tableB}, func(tx table.Tx) error {
		a, err := tx.Table(tableA)
		if err != nil {
			return err
		}
		b, err := tx.Table(tableB)
		if err != nil {
			return err
		}
		return fn(a, b)
	})
}

func rec(id, key, data string) table.Record {
	return table.Record{ID: id, Attrs: map[string]string{"key": key}, Data: []byte(data)}
}

func count(t testing.TB, store table.Store, name string) int {
	var n int
	err := store.Transaction(context.Background(), table.ModeRead, []string{name}, func(tx table.Tx) error {
		tbl, err := tx.Table(name)
		if err != nil {
			return err
		}
		n, err = tbl.Count()
		return err
	})
	require.NoError(t, err)
	return n
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateTable(t *testing.T, store table.Store) {
	defer store.Close()

	require.NoError(t, store.CreateTable(tableA, schema))
	require.NoError(t, store.CreateTable(tableA, schema), "CreateTable must be idempotent")

	other := table.Schema{PrimaryKey: "id", Indexes: []string{"owner"}}
	err := store.CreateTable(tableA, other)
	assert.ErrorIs(t, err, table.ErrSchemaChanged)

	err = store.Transaction(context.Background(), table.ModeRead, []string{"missing"}, func(tx table.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, table.ErrTableNotFound)
}

func testAddGet(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	err := write(store, func(a, _ table.Table) error {
		return a.Add(rec("r1", "k1", "value-1"))
	})
	require.NoError(t, err)

	err = read(store, func(a, b table.Table) error {
		got, ok, err := a.Get("r1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "r1", got.ID)
		assert.Equal(t, "k1", got.Attrs["key"])
		assert.Equal(t, []byte("value-1"), got.Data)

		// returned records are copies
		got.Data[0] = 'X'
		again, _, err := a.Get("r1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value-1"), again.Data)

		_, ok, err = a.Get("missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = b.Get("r1")
		require.NoError(t, err)
		assert.False(t, ok, "tables must not share rows")
		return nil
	})
	require.NoError(t, err)

	// duplicate primary key
	err = write(store, func(a, _ table.Table) error {
		return a.Add(rec("r1", "k2", "other"))
	})
	assert.ErrorIs(t, err, table.ErrConstraint)

	// unknown attribute
	err = write(store, func(a, _ table.Table) error {
		return a.Add(table.Record{ID: "r2", Attrs: map[string]string{"nope": "x"}})
	})
	assert.ErrorIs(t, err, table.ErrUnknownField)
}

func testWhere(t *testing.T, store table.Store) {
	defer store.Close()
	requireFeature(t, store, table.FeatureIndexes)
	setup(t, store)

	err := write(store, func(a, _ table.Table) error {
		return a.BulkAdd([]table.Record{
			rec("k1-1", "k1", "b"),
			rec("k1-0", "k1", "a"),
			rec("k2-0", "k2", "c"),
		})
	})
	require.NoError(t, err)

	err = read(store, func(a, _ table.Table) error {
		recs, err := a.Where("key", "k1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "k1-0", recs[0].ID)
		assert.Equal(t, "k1-1", recs[1].ID)

		recs, err = a.Where("id", "k2-0")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, []byte("c"), recs[0].Data)

		recs, err = a.Where("key", "k3")
		require.NoError(t, err)
		assert.Empty(t, recs)

		_, err = a.Where("data", "x")
		assert.ErrorIs(t, err, table.ErrUnknownField)
		return nil
	})
	require.NoError(t, err)
}

func testBulkOperations(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	var recs []table.Record
	for i := 0; i < 50; i++ {
		recs = append(recs, rec(fmt.Sprintf("r%02d", i), "k", fmt.Sprintf("v%d", i)))
	}
	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkAdd(recs)
	}))
	assert.Equal(t, 50, count(t, store, tableA))

	// missing ids are ignored
	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkDelete([]string{"r00", "r01", "does-not-exist"})
	}))
	assert.Equal(t, 48, count(t, store, tableA))

	// a duplicate inside a batch fails the whole transaction
	err := write(store, func(a, _ table.Table) error {
		return a.BulkAdd([]table.Record{rec("new-1", "k", "x"), rec("r10", "k", "dup")})
	})
	assert.ErrorIs(t, err, table.ErrConstraint)
	assert.Equal(t, 48, count(t, store, tableA))

	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkDelete(nil)
	}))
}

// deletes more ids in one call than SQLite binds per statement
func testBulkDeleteLarge(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	const n = 40_500
	recs := make([]table.Record, n)
	ids := make([]string, 0, n+1)
	for i := range recs {
		recs[i] = rec(fmt.Sprintf("r%05d", i), "k", "")
		ids = append(ids, recs[i].ID)
	}
	ids = append(ids, "does-not-exist")

	require.NoError(t, write(store, func(a, b table.Table) error {
		if err := a.BulkAdd(recs); err != nil {
			return err
		}
		return b.Add(rec("other", "k", ""))
	}))
	require.Equal(t, n, count(t, store, tableA))

	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkDelete(ids)
	}))
	assert.Equal(t, 0, count(t, store, tableA))
	assert.Equal(t, 1, count(t, store, tableB))

	err := read(store, func(a, _ table.Table) error {
		recs, err := a.Where("key", "k")
		require.NoError(t, err)
		assert.Empty(t, recs)
		return nil
	})
	require.NoError(t, err)
}

func testClearCountScan(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	require.NoError(t, write(store, func(a, b table.Table) error {
		if err := a.BulkAdd([]table.Record{rec("1", "x", "1"), rec("2", "x", "2"), rec("3", "y", "3")}); err != nil {
			return err
		}
		return b.Add(rec("1", "x", "b"))
	}))

	err := read(store, func(a, _ table.Table) error {
		seen := map[string]bool{}
		require.NoError(t, a.Scan(func(r table.Record) bool {
			seen[r.ID] = true
			return true
		}))
		assert.Len(t, seen, 3)

		visited := 0
		require.NoError(t, a.Scan(func(r table.Record) bool {
			visited++
			return false
		}))
		assert.Equal(t, 1, visited, "scan must stop when fn returns false")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.Clear()
	}))
	assert.Equal(t, 0, count(t, store, tableA))
	assert.Equal(t, 1, count(t, store, tableB), "Clear must only affect its own table")
}

func testScope(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	var leaked table.Table
	err := store.Transaction(context.Background(), table.ModeReadWrite, []string{tableA}, func(tx table.Tx) error {
		_, err := tx.Table(tableB)
		assert.ErrorIs(t, err, table.ErrOutOfScope)

		leaked, err = tx.Table(tableA)
		return err
	})
	require.NoError(t, err)

	// handles are dead after the body returned
	_, _, err = leaked.Get("x")
	assert.ErrorIs(t, err, table.ErrTxDone)
	assert.ErrorIs(t, leaked.Add(rec("x", "x", "x")), table.ErrTxDone)

	// duplicate names in the scope are allowed
	err = store.Transaction(context.Background(), table.ModeReadWrite, []string{tableA, tableA}, func(tx table.Tx) error {
		a, err := tx.Table(tableA)
		if err != nil {
			return err
		}
		return a.Add(rec("dup-scope", "k", "v"))
	})
	require.NoError(t, err)
}

func testReadOnly(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	err := read(store, func(a, _ table.Table) error {
		assert.ErrorIs(t, a.Add(rec("x", "x", "x")), table.ErrReadOnly)
		assert.ErrorIs(t, a.BulkDelete([]string{"x"}), table.ErrReadOnly)
		assert.ErrorIs(t, a.Clear(), table.ErrReadOnly)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count(t, store, tableA))
}

func testRollback(t *testing.T, store table.Store) {
	defer store.Close()
	requireFeature(t, store, table.FeatureTransactions)
	setup(t, store)

	require.NoError(t, write(store, func(a, b table.Table) error {
		if err := a.Add(rec("keep", "k", "a")); err != nil {
			return err
		}
		return b.Add(rec("keep", "k", "b"))
	}))

	errAbort := errors.New("abort")
	err := write(store, func(a, b table.Table) error {
		if err := a.BulkDelete([]string{"keep"}); err != nil {
			return err
		}
		if err := a.Add(rec("new", "k", "a")); err != nil {
			return err
		}
		if err := b.Clear(); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort, "the body error must be returned unchanged")

	err = read(store, func(a, b table.Table) error {
		got, ok, err := a.Get("keep")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, bytes.Equal([]byte("a"), got.Data))

		_, ok, err = a.Get("new")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := b.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

// a rolled back transaction must leave index lookups exactly as before
func testIndexAfterRollback(t *testing.T, store table.Store) {
	defer store.Close()
	requireFeature(t, store, table.FeatureTransactions|table.FeatureIndexes)
	setup(t, store)

	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkAdd([]table.Record{rec("x-0", "x", "a"), rec("x-1", "x", "b"), rec("y-0", "y", "c")})
	}))

	errAbort := errors.New("abort")
	err := write(store, func(a, _ table.Table) error {
		if err := a.BulkDelete([]string{"x-0", "y-0"}); err != nil {
			return err
		}
		if err := a.BulkAdd([]table.Record{rec("x-2", "x", "d"), rec("y-0", "x", "moved")}); err != nil {
			return err
		}

		// changes are visible inside the transaction
		recs, err := a.Where("key", "x")
		if err != nil {
			return err
		}
		ids := make([]string, len(recs))
		for i, r := range recs {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"x-1", "x-2", "y-0"}, ids)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	err = read(store, func(a, _ table.Table) error {
		recs, err := a.Where("key", "x")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "x-0", recs[0].ID)
		assert.Equal(t, "x-1", recs[1].ID)

		recs, err = a.Where("key", "y")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, []byte("c"), recs[0].Data)
		return nil
	})
	require.NoError(t, err)
}

func testRollbackOnPanic(t *testing.T, store table.Store) {
	defer store.Close()
	requireFeature(t, store, table.FeatureTransactions)
	setup(t, store)

	assert.Panics(t, func() {
		_ = write(store, func(a, _ table.Table) error {
			if err := a.Add(rec("p", "k", "v")); err != nil {
				return err
			}
			panic("boom")
		})
	})

	assert.Equal(t, 0, count(t, store, tableA))

	// the store stays usable
	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.Add(rec("p", "k", "v"))
	}))
	assert.Equal(t, 1, count(t, store, tableA))
}

func testCanceledContext(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Transaction(ctx, table.ModeReadWrite, []string{tableA}, func(tx table.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func testIsolation(t *testing.T, store table.Store) {
	defer store.Close()
	requireFeature(t, store, table.FeatureTransactions)
	setup(t, store)

	// every worker reads the row count and inserts a row named after it
	// in both tables, without isolation ids would collide
	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := write(store, func(a, b table.Table) error {
					n, err := a.Count()
					if err != nil {
						return err
					}
					id := fmt.Sprintf("row-%d", n)
					if err := a.Add(rec(id, "k", "a")); err != nil {
						return err
					}
					return b.Add(rec(id, "k", "b"))
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent transaction failed: %v", err)
	}
	assert.Equal(t, workers*perWorker, count(t, store, tableA))
	assert.Equal(t, workers*perWorker, count(t, store, tableB))
}

func testInfo(t *testing.T, store table.Store) {
	defer store.Close()
	setup(t, store)

	require.NoError(t, write(store, func(a, _ table.Table) error {
		return a.BulkAdd([]table.Record{rec("1", "k", "v"), rec("2", "k", "v")})
	}))

	info, err := store.Info()
	require.NoError(t, err)
	assert.NotEmpty(t, info.Impl)
	assert.Equal(t, 2, info.Tables[tableA])
	assert.Equal(t, 0, info.Tables[tableB])
	for _, f := range info.SupportedFeatures {
		assert.True(t, store.SupportsFeature(f), "advertised feature %s", f)
	}
}

func testSaveLoad(t *testing.T, factory StoreFactory) {
	src := factory()
	defer src.Close()
	requireFeature(t, src, table.FeatureSave|table.FeatureLoad)

	srcP, ok := src.(table.Persister)
	require.True(t, ok, "store advertises Save/Load but does not implement table.Persister")

	setup(t, src)
	require.NoError(t, write(src, func(a, b table.Table) error {
		for i := 0; i < 100; i++ {
			if err := a.Add(rec(fmt.Sprintf("a-%d", i), fmt.Sprintf("k%d", i%10), fmt.Sprintf("v%d", i))); err != nil {
				return err
			}
		}
		return b.Add(table.Record{ID: "no-attrs", Data: []byte("x")})
	}))

	var buf bytes.Buffer
	require.NoError(t, srcP.Save(&buf))

	dst := factory()
	defer dst.Close()
	dstP := dst.(table.Persister)
	require.NoError(t, dstP.Load(&buf))

	// loaded tables keep their schema
	require.NoError(t, dst.CreateTable(tableA, schema))
	assert.ErrorIs(t, dst.CreateTable(tableB, table.Schema{PrimaryKey: "other"}), table.ErrSchemaChanged)

	assert.Equal(t, 100, count(t, dst, tableA))
	err := read(dst, func(a, b table.Table) error {
		recs, err := a.Where("key", "k3")
		require.NoError(t, err)
		assert.Len(t, recs, 10)

		got, ok, err := b.Get("no-attrs")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("x"), got.Data)
		return nil
	})
	require.NoError(t, err)

	assert.Error(t, dstP.Load(bytes.NewReader([]byte("garbage"))))
}

func testClose(t *testing.T, store table.Store) {
	setup(t, store)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Close must be idempotent")

	err := store.Transaction(context.Background(), table.ModeRead, []string{tableA}, func(tx table.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, table.ErrClosed)
	assert.ErrorIs(t, store.CreateTable("new", schema), table.ErrClosed)
}
