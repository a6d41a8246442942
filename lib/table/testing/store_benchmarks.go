package testing

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/stretchr/testify/require"
)

// RunStoreBenchmarks runs all benchmarks for a table store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {

	b.Run("Add", func(b *testing.B) {
		benchmarkAdd(b, factory())
	})

	b.Run("BulkAdd", func(b *testing.B) {
		benchmarkBulkAdd(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("WhereIndex", func(b *testing.B) {
		benchmarkWhereIndex(b, factory())
	})

	b.Run("MultiTableTransaction", func(b *testing.B) {
		benchmarkMultiTable(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// prefill adds n records with 4 records per index value
func prefill(b *testing.B, store table.Store, n int) {
	setup(b, store)
	recs := make([]table.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, rec(fmt.Sprintf("r-%d", i), fmt.Sprintf("k-%d", i/4), "value"))
	}
	require.NoError(b, write(store, func(a, _ table.Table) error {
		return a.BulkAdd(recs)
	}))
}

// Benchmark for one Add per transaction
func benchmarkAdd(b *testing.B, store table.Store) {

	b.Cleanup(func() {
		store.Close()
	})
	setup(b, store)

	value := []byte("test-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := write(store, func(a, _ table.Table) error {
			return a.Add(table.Record{ID: fmt.Sprintf("r-%d", i), Attrs: map[string]string{"key": "k"}, Data: value})
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for BulkAdd with 16 records per transaction
func benchmarkBulkAdd(b *testing.B, store table.Store) {

	b.Cleanup(func() {
		store.Close()
	})
	setup(b, store)

	value := bytes.Repeat([]byte("x"), 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		recs := make([]table.Record, 16)
		for j := range recs {
			recs[j] = table.Record{ID: fmt.Sprintf("r-%d-%d", i, j), Attrs: map[string]string{"key": fmt.Sprintf("k-%d", i)}, Data: value}
		}
		if err := write(store, func(a, _ table.Table) error { return a.BulkAdd(recs) }); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for Get inside read transactions
func benchmarkGet(b *testing.B, store table.Store) {

	b.Cleanup(func() {
		store.Close()
	})

	const n = 10_000
	prefill(b, store, n)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			err := read(store, func(a, _ table.Table) error {
				_, _, err := a.Get(fmt.Sprintf("r-%d", counter%n))
				return err
			})
			if err != nil {
				b.Error(err)
				return
			}
			counter++
		}
	})
}

// Benchmark for Where on the secondary index
func benchmarkWhereIndex(b *testing.B, store table.Store) {

	b.Cleanup(func() {
		store.Close()
	})
	requireFeature(b, store, table.FeatureIndexes)

	const n = 1_000
	prefill(b, store, n)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := read(store, func(a, _ table.Table) error {
			_, err := a.Where("key", fmt.Sprintf("k-%d", i%(n/4)))
			return err
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for a read-write transaction touching two tables (the dMap set pattern)
func benchmarkMultiTable(b *testing.B, store table.Store) {

	b.Cleanup(func() {
		store.Close()
	})
	setup(b, store)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("r-%d", i)
		err := store.Transaction(context.Background(), table.ModeReadWrite, []string{tableA, tableB}, func(tx table.Tx) error {
			a, err := tx.Table(tableA)
			if err != nil {
				return err
			}
			bt, err := tx.Table(tableB)
			if err != nil {
				return err
			}
			if _, err := a.Where("key", id); err != nil {
				return err
			}
			if err := a.Add(rec(id, id, "manifest")); err != nil {
				return err
			}
			return bt.Add(rec(id+"-0", id, "fragment"))
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for snapshot Save and Load
func benchmarkSaveLoad(b *testing.B, factory StoreFactory) {
	store := factory()
	b.Cleanup(func() {
		store.Close()
	})
	requireFeature(b, store, table.FeatureSave|table.FeatureLoad)

	prefill(b, store, 10_000)
	persister := store.(table.Persister)

	var snapshot bytes.Buffer
	require.NoError(b, persister.Save(&snapshot))

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := persister.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.(table.Persister).Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}
