package dmap

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMap/lib/codec"
	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/table/engines/maple"
	"github.com/ValentinKolb/dMap/lib/table/engines/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type document struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Size  int      `json:"size"`
}

// engines returns one opener factory per table store engine
var engines = map[string]func(t *testing.T) table.Opener{
	"Maple": func(t *testing.T) table.Opener {
		return maple.Opener("")
	},
	"SQLite": func(t *testing.T) table.Opener {
		return sqlite.Opener(t.TempDir())
	},
}

// forEachEngine runs fn once per engine
func forEachEngine(t *testing.T, fn func(t *testing.T, opener table.Opener)) {
	for name, factory := range engines {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newMap[K comparable, V any](t *testing.T, cfg Config[K, V]) *DMap[K, V] {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// rows returns the fragment ids stored in each shard
func rows[K comparable, V any](t *testing.T, m *DMap[K, V]) [][]string {
	t.Helper()
	out := make([][]string, m.pool.Len())
	err := m.store.Transaction(context.Background(), table.ModeRead, m.tables, func(tx table.Tx) error {
		for i := range out {
			tbl, err := tx.Table(m.pool.Table(i))
			if err != nil {
				return err
			}
			err = tbl.Scan(func(rec table.Record) bool {
				out[i] = append(out[i], rec.ID)
				return true
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// mutate runs fn in a read-write transaction on the store of m, bypassing the map
func mutate[K comparable, V any](t *testing.T, m *DMap[K, V], fn func(tx table.Tx) error) {
	t.Helper()
	require.NoError(t, m.store.Transaction(context.Background(), table.ModeReadWrite, m.tables, fn))
}

func totalRows(shards [][]string) int {
	n := 0
	for _, s := range shards {
		n += len(s)
	}
	return n
}

// --------------------------------------------------------------------------
// Core behaviour
// --------------------------------------------------------------------------

func TestSetGet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, document]{Opener: opener})

		docs := map[string]document{
			"a":            {Title: "A", Tags: []string{"x"}, Size: 1},
			"b":            {Title: "B"},
			"with-dash-0":  {Title: "dash", Size: -3},
			"unicode-äöü":  {Title: "ü", Tags: []string{}},
			"":             {Title: "empty key"},
			"space in key": {Title: "s"},
		}
		for k, v := range docs {
			_, err := m.Set(ctx, k, v)
			require.NoError(t, err, k)
		}

		for k, want := range docs {
			got, ok, err := m.Get(ctx, k)
			require.NoError(t, err, k)
			require.True(t, ok, k)
			assert.Equal(t, want, got, k)
		}

		_, ok, err := m.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(docs), n)
	})
}

func TestOverwriteLeavesNoFragments(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		chunked, err := codec.Chunked[string](codec.NewBinarySerializer(), 4)
		require.NoError(t, err)
		m := newMap(t, Config[string, string]{Opener: opener, Codec: &chunked})

		_, err = m.Set(ctx, "k", "0123456789") // 3 fragments
		require.NoError(t, err)
		assert.Equal(t, 3, totalRows(rows(t, m)))

		_, err = m.Set(ctx, "k", "ab") // 1 fragment
		require.NoError(t, err)

		got, ok, err := m.Get(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ab", got)

		assert.Equal(t, 1, totalRows(rows(t, m)), "fragments of the old value must be removed")

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, report.Healthy(), "%+v", report)

		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		_, err := m.Set(ctx, "a", "x")
		require.NoError(t, err)
		_, err = m.Set(ctx, "b", "y")
		require.NoError(t, err)

		removed, err := m.Delete(ctx, "a")
		require.NoError(t, err)
		assert.True(t, removed)

		has, err := m.Has(ctx, "a")
		require.NoError(t, err)
		assert.False(t, has)

		_, ok, err := m.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		// absent key: false and no mutation
		before := rows(t, m)
		removed, err = m.Delete(ctx, "a")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, before, rows(t, m))

		got, ok, err := m.Get(ctx, "b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "y", got)

		assert.Equal(t, 1, totalRows(rows(t, m)))
	})
}

func TestExampleScenario(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener, Serializer: codec.NewBinarySerializer()})

		_, err := m.Set(ctx, "a", "x")
		require.NoError(t, err)
		_, err = m.Set(ctx, "b", "y")
		require.NoError(t, err)

		assertEntry(t, m, "a", []Address{{Shard: 0, FragmentID: "a-0"}})
		assertEntry(t, m, "b", []Address{{Shard: 1, FragmentID: "b-0"}})

		got, ok, err := m.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "x", got)

		removed, err := m.Delete(ctx, "a")
		require.NoError(t, err)
		require.True(t, removed)
		assert.Empty(t, rows(t, m)[0])

		has, err := m.Has(ctx, "a")
		require.NoError(t, err)
		assert.False(t, has)
	})
}

// assertEntry checks the stored manifest entry of key
func assertEntry[K comparable, V any](t *testing.T, m *DMap[K, V], key string, want []Address) {
	t.Helper()
	err := m.store.Transaction(context.Background(), table.ModeRead, m.tables, func(tx table.Tx) error {
		ms, err := openManifest(tx)
		if err != nil {
			return err
		}
		entries, err := ms.lookup(key)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, want, entries[0].Frags)
		return nil
	})
	require.NoError(t, err)
}

func TestRoundRobinPlacement(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, int]{Opener: opener})
		require.Equal(t, 4, m.Pool().Len())

		for i := 0; i < 4; i++ {
			_, err := m.Set(ctx, fmt.Sprintf("k%d", i), i)
			require.NoError(t, err)
		}

		shards := rows(t, m)
		for i := 0; i < 4; i++ {
			assert.Equal(t, []string{fmt.Sprintf("k%d-0", i)}, shards[i], "shard %d", i)
		}
		assert.Equal(t, 0, m.Pool().Cursor(), "cursor wraps around after N fragments")
	})
}

func TestMultiFragmentPlacement(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		chunked, err := codec.Chunked[[]byte](codec.NewBinarySerializer(), 2)
		require.NoError(t, err)
		m := newMap(t, Config[string, []byte]{Opener: opener, Codec: &chunked, Shards: 3})

		value := []byte("aabbccdde") // 5 fragments over 3 shards
		_, err = m.Set(ctx, "v", value)
		require.NoError(t, err)

		assertEntry(t, m, "v", []Address{
			{0, "v-0"}, {1, "v-1"}, {2, "v-2"}, {0, "v-3"}, {1, "v-4"},
		})
		assert.Equal(t, 2, m.Pool().Cursor())

		got, ok, err := m.Get(ctx, "v")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, got)

		removed, err := m.Delete(ctx, "v")
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 0, totalRows(rows(t, m)))
	})
}

func TestSingleShard(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, Config[int, string]{Shards: 1})

	for i := 0; i < 10; i++ {
		_, err := m.Set(ctx, i, strings.Repeat("x", i))
		require.NoError(t, err)
	}
	assert.Len(t, rows(t, m)[0], 10)

	got, ok, err := m.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "xxxxxxx", got)
}

func TestClear(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		for i := 0; i < 20; i++ {
			_, err := m.Set(ctx, fmt.Sprintf("k%d", i), "v")
			require.NoError(t, err)
		}
		require.NoError(t, m.Clear(ctx))

		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, totalRows(rows(t, m)))

		// the map stays usable
		_, err = m.Set(ctx, "k0", "again")
		require.NoError(t, err)
		has, err := m.Has(ctx, "k0")
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestChaining(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, Config[string, int]{})

	m2, err := m.Set(ctx, "a", 1)
	require.NoError(t, err)
	assert.Same(t, m, m2)

	_, err = m2.Set(ctx, "b", 2)
	require.NoError(t, err)

	n, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

func TestValueInvalid(t *testing.T) {
	ctx := context.Background()

	ptrMap := newMap(t, Config[string, *document]{Name: "ptr"})
	_, err := ptrMap.Set(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrValueInvalid)

	sliceMap := newMap(t, Config[string, []string]{Name: "slice"})
	_, err = sliceMap.Set(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrValueInvalid)

	// empty but not nil is a valid value
	_, err = sliceMap.Set(ctx, "b", []string{})
	require.NoError(t, err)
	got, ok, err := sliceMap.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{}, got)

	anyMap := newMap(t, Config[string, any]{Name: "any", Serializer: codec.NewGOBSerializer()})
	_, err = anyMap.Set(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrValueInvalid)

	// zero values of non-nillable types are valid
	intMap := newMap(t, Config[string, int]{Name: "int"})
	_, err = intMap.Set(ctx, "zero", 0)
	require.NoError(t, err)

	// a failed set never touches the store
	n, err := ptrMap.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, ptrMap.Pool().Cursor())

	// split errors are reported as invalid values
	binMap := newMap(t, Config[string, document]{Name: "bin", Serializer: codec.NewBinarySerializer()})
	_, err = binMap.Set(ctx, "a", document{})
	assert.ErrorIs(t, err, ErrValueInvalid)
	assert.ErrorIs(t, err, codec.ErrUnsupportedType)
}

func TestConfigError(t *testing.T) {
	_, err := New(Config[string, string]{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(Config[string, string]{Name: "../escape"})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(Config[string, string]{Name: "x", Shards: -1})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(Config[string, string]{Name: "x", Codec: &codec.Codec[string]{}})
	assert.ErrorIs(t, err, ErrConfig)

	type point struct{ X, Y int }
	_, err = New(Config[point, string]{Name: "x"})
	assert.ErrorIs(t, err, ErrConfig)

	// value types JSON cannot decode back need an explicit serializer or codec
	_, err = New(Config[string, any]{Name: "x"})
	assert.ErrorIs(t, err, ErrConfig)

	type hidden struct{ x, y int }
	_, err = New(Config[string, hidden]{Name: "x"})
	assert.ErrorIs(t, err, ErrConfig)

	type nested struct {
		Items []map[string]any
	}
	_, err = New(Config[string, *nested]{Name: "x"})
	assert.ErrorIs(t, err, ErrConfig)

	// types that marshal themselves or have exported fields are fine
	newMap(t, Config[string, time.Time]{Name: "time"})
	newMap(t, Config[string, *document]{Name: "doc"})
	newMap(t, Config[string, struct{}]{Name: "empty"})
	newMap(t, Config[string, any]{Name: "custom", Codec: &codec.Codec[any]{
		Split: func(any) ([][]byte, error) { return [][]byte{{1}}, nil },
		Join:  func([][]byte) (any, error) { return 1, nil },
	}})

	// with a KeyFunc any comparable key works
	m := newMap(t, Config[point, string]{
		KeyFunc: func(p point) string { return fmt.Sprintf("%d:%d", p.X, p.Y) },
	})
	_, err = m.Set(context.Background(), point{1, 2}, "p")
	require.NoError(t, err)
	got, ok, err := m.Get(context.Background(), point{1, 2})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p", got)
}

func TestDefaultKeyFuncs(t *testing.T) {
	type label string

	kf, err := defaultKeyFunc[label]()
	require.NoError(t, err)
	assert.Equal(t, "a-b", kf("a-b"))

	bf, err := defaultKeyFunc[bool]()
	require.NoError(t, err)
	assert.Equal(t, "true", bf(true))

	inf, err := defaultKeyFunc[int64]()
	require.NoError(t, err)
	assert.Equal(t, "-42", inf(-42))

	uf, err := defaultKeyFunc[uint8]()
	require.NoError(t, err)
	assert.Equal(t, "255", uf(255))

	_, err = defaultKeyFunc[float64]()
	assert.ErrorIs(t, err, ErrConfig)
	_, err = defaultKeyFunc[any]()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCustomSplitJoin(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, Config[string, string]{
		Split: func(v string) ([][]byte, error) {
			var out [][]byte
			for _, part := range strings.Split(v, " ") {
				out = append(out, []byte(part))
			}
			return out, nil
		},
		Join: func(frags [][]byte) (string, error) {
			return string(bytes.Join(frags, []byte(" "))), nil
		},
	})

	_, err := m.Set(ctx, "s", "one two three four five")
	require.NoError(t, err)
	assert.Equal(t, 5, totalRows(rows(t, m)))

	got, ok, err := m.Get(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one two three four five", got)
}

// --------------------------------------------------------------------------
// Corruption detection
// --------------------------------------------------------------------------

func TestFragmentMissing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		_, err := m.Set(ctx, "a", "x") // shard 0
		require.NoError(t, err)
		_, err = m.Set(ctx, "b", "y") // shard 1
		require.NoError(t, err)

		mutate(t, m, func(tx table.Tx) error {
			shard, err := tx.Table(ShardName(0))
			if err != nil {
				return err
			}
			return shard.BulkDelete([]string{"a-0"})
		})

		_, _, err = m.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrFragmentMissing)

		var dErr *Error
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, "a", dErr.Key)

		// the manifest entry is untouched and other keys are fine
		has, err := m.Has(ctx, "a")
		require.NoError(t, err)
		assert.True(t, has)
		assertEntry(t, m, "a", []Address{{Shard: 0, FragmentID: "a-0"}})

		got, ok, err := m.Get(ctx, "b")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "y", got)

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		require.Len(t, report.Issues, 1)
		assert.Equal(t, CodeFragmentMissing, report.Issues[0].Code)
		assert.Equal(t, "a", report.Issues[0].Key)

		// re-setting the key repairs it
		_, err = m.Set(ctx, "a", "x2")
		require.NoError(t, err)
		got, ok, err = m.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "x2", got)
	})
}

func TestFragmentCorrupt(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		_, err := m.Set(ctx, "a", "payload")
		require.NoError(t, err)

		mutate(t, m, func(tx table.Tx) error {
			shard, err := tx.Table(ShardName(0))
			if err != nil {
				return err
			}
			rec, ok, err := shard.Get("a-0")
			if err != nil || !ok {
				return fmt.Errorf("fragment not found: %v", err)
			}
			rec.Data[len(rec.Data)-1] ^= 0xff
			if err := shard.BulkDelete([]string{"a-0"}); err != nil {
				return err
			}
			return shard.Add(rec)
		})

		_, _, err = m.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrFragmentCorrupt)

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		require.Len(t, report.Issues, 1)
		assert.Equal(t, CodeFragmentCorrupt, report.Issues[0].Code)
	})
}

func TestManifestConflict(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		_, err := m.Set(ctx, "a", "x")
		require.NoError(t, err)

		// a second manifest record for the same key
		mutate(t, m, func(tx table.Tx) error {
			ms, err := openManifest(tx)
			if err != nil {
				return err
			}
			return ms.insert(Entry{ID: "a#dup", Key: "a", Frags: []Address{{Shard: 0, FragmentID: "a-0"}}})
		})

		_, _, err = m.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrManifestConflict)

		_, err = m.Set(ctx, "a", "y")
		assert.ErrorIs(t, err, ErrManifestConflict)

		_, err = m.Delete(ctx, "a")
		assert.ErrorIs(t, err, ErrManifestConflict)

		// failed operations leave everything as it was
		assert.Equal(t, 1, totalRows(rows(t, m)))
		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		require.Len(t, report.Issues, 1)
		assert.Equal(t, CodeManifestConflict, report.Issues[0].Code)
	})
}

func TestOrphanedFragmentBlocksSet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, string]{Opener: opener})

		// fragment without manifest entry where the next set of "z" will write
		mutate(t, m, func(tx table.Tx) error {
			shard, err := tx.Table(ShardName(0))
			if err != nil {
				return err
			}
			return shard.Add(fragmentRecord("z", "z-0", []byte(`"orphan"`)))
		})

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Address{{Shard: 0, FragmentID: "z-0"}}, report.Orphans)

		_, err = m.Set(ctx, "z", "new")
		assert.ErrorIs(t, err, ErrManifestConflict)

		has, err := m.Has(ctx, "z")
		require.NoError(t, err)
		assert.False(t, has, "the failed set must be rolled back")
	})
}

// --------------------------------------------------------------------------
// Concurrency, persistence, introspection
// --------------------------------------------------------------------------

func TestConcurrentAccess(t *testing.T) {
	forEachEngine(t, func(t *testing.T, opener table.Opener) {
		ctx := context.Background()
		m := newMap(t, Config[string, int]{Opener: opener})

		const workers = 8
		const perWorker = 20

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					key := fmt.Sprintf("w%d-%d", w, i)
					if _, err := m.Set(ctx, key, i); err != nil {
						t.Errorf("set %s: %v", key, err)
						return
					}
					// every worker also overwrites a shared key
					if _, err := m.Set(ctx, "shared", w); err != nil {
						t.Errorf("set shared: %v", err)
						return
					}
					if _, _, err := m.Get(ctx, "shared"); err != nil {
						t.Errorf("get shared: %v", err)
						return
					}
				}
			}(w)
		}
		wg.Wait()

		n, err := m.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker+1, n)

		report, err := m.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, report.Healthy(), "%+v", report)
		assert.Equal(t, workers*perWorker+1, report.Fragments)
	})
}

func TestReopenSQLite(t *testing.T) {
	ctx := context.Background()
	opener := sqlite.Opener(t.TempDir())

	m, err := New(Config[string, string]{Name: "persist", Opener: opener})
	require.NoError(t, err)
	_, err = m.Set(ctx, "a", "x")
	require.NoError(t, err)
	_, err = m.Set(ctx, "b", "y")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := New(Config[string, string]{Name: "persist", Opener: opener})
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", got)

	// the cursor is not persisted, placement restarts at shard 0
	assert.Equal(t, 0, reopened.Pool().Cursor())
	_, err = reopened.Set(ctx, "c", "z")
	require.NoError(t, err)
	assertEntry(t, reopened, "c", []Address{{Shard: 0, FragmentID: "c-0"}})
}

func TestDeleteOutOfRangeShard(t *testing.T) {
	ctx := context.Background()
	opener := sqlite.Opener(t.TempDir())

	m, err := New(Config[string, string]{Name: "shrink", Opener: opener, Shards: 3})
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		_, err = m.Set(ctx, k, k)
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	// "c" was placed on shard 2 which the smaller map does not open
	shrunk, err := New(Config[string, string]{Name: "shrink", Opener: opener, Shards: 2})
	require.NoError(t, err)
	defer shrunk.Close()
	assertEntry(t, shrunk, "c", []Address{{Shard: 2, FragmentID: "c-0"}})
	_, _, err = shrunk.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrFragmentMissing)

	removed, err := shrunk.Delete(ctx, "c")
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err := shrunk.Has(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, [][]string{{"a-0"}, {"b-0"}}, rows(t, shrunk))
}

func TestReopenMapleSnapshot(t *testing.T) {
	ctx := context.Background()
	opener := maple.Opener(t.TempDir())

	m, err := New(Config[string, int]{Name: "snap", Opener: opener})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = m.Set(ctx, fmt.Sprintf("k%d", i), i)
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	reopened, err := New(Config[string, int]{Name: "snap", Opener: opener})
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	got, ok, err := reopened.Get(ctx, "k7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, Config[string, string]{Serializer: codec.NewBinarySerializer()})

	for i := 0; i < 6; i++ {
		_, err := m.Set(ctx, fmt.Sprintf("k%d", i), "0123456789")
		require.NoError(t, err)
	}

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, 6, stats.Keys)
	assert.Equal(t, map[string]int{"shard-0": 2, "shard-1": 2, "shard-2": 1, "shard-3": 1}, stats.Shards)
	assert.Equal(t, 2, stats.Cursor)
	assert.Equal(t, int64(6), stats.FragmentSizes.Count)
	assert.Equal(t, int64(60), stats.FragmentSizes.Total)
	assert.Equal(t, 2.0, stats.Distribution.Max)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	m := newMap(t, Config[string, string]{Name: "metered"})

	_, err := m.Set(ctx, "a", "x")
	require.NoError(t, err)
	_, _, err = m.Get(ctx, "a")
	require.NoError(t, err)
	_, err = m.Set(ctx, "b", "y")
	require.NoError(t, err)

	var buf bytes.Buffer
	m.WriteMetrics(&buf)
	out := buf.String()

	assert.Contains(t, out, `dmap_ops_total{map="metered",op="set"} 2`)
	assert.Contains(t, out, `dmap_ops_total{map="metered",op="get"} 1`)
	assert.Contains(t, out, `dmap_alloc_cursor{map="metered"} 2`)
	assert.Contains(t, out, `dmap_fragments_written_total{map="metered"} 2`)
	assert.NotContains(t, out, `dmap_errors_total`)
}

func TestCanceledContext(t *testing.T) {
	m := newMap(t, Config[string, string]{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Set(ctx, "a", "x")
	assert.ErrorIs(t, err, context.Canceled)

	has, err := m.Has(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, has)
}
