package dmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ValentinKolb/dMap/lib/codec"
	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dmap")

// DMap is a key/value map whose values are split into fragments that are
// spread round-robin over a fixed set of shard tables. A manifest table maps
// every key to the addresses of its fragments.
//
// Every mutation runs in one read-write transaction over the manifest and all
// shards, so readers never see a manifest entry without its fragments or
// fragments without their manifest entry.
//
// Thread-safety: All methods are safe for concurrent use.
type DMap[K comparable, V any] struct {
	name    string
	store   table.Store
	pool    *ShardPool
	tables  []string // manifest followed by all shards, the scope of every mutation
	codec   codec.Codec[V]
	keyFunc func(K) string
	metrics *mapMetrics
}

// New opens (or creates) the map described by cfg and provisions its tables.
// A missing name or an unusable key type fails with a ConfigError.
func New[K comparable, V any](cfg Config[K, V]) (*DMap[K, V], error) {
	r, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	store, err := r.opener(r.name)
	if err != nil {
		return nil, fmt.Errorf("dmap: open store %s: %w", r.name, err)
	}

	pool := newShardPool(r.shards)
	if err := store.CreateTable(manifestTable, manifestSchema); err != nil {
		store.Close()
		return nil, fmt.Errorf("dmap: create %s: %w", manifestTable, err)
	}
	for _, name := range pool.Tables() {
		if err := store.CreateTable(name, shardSchema); err != nil {
			store.Close()
			return nil, fmt.Errorf("dmap: create %s: %w", name, err)
		}
	}

	Logger.Infof("opened map %s with %d shards", r.name, r.shards)

	return &DMap[K, V]{
		name:    r.name,
		store:   store,
		pool:    pool,
		tables:  append([]string{manifestTable}, pool.Tables()...),
		codec:   r.codec,
		keyFunc: r.keyFunc,
		metrics: newMapMetrics(r.name, pool),
	}, nil
}

// Name returns the configured name
func (d *DMap[K, V]) Name() string {
	return d.name
}

// Pool returns the shard pool of the map
func (d *DMap[K, V]) Pool() *ShardPool {
	return d.pool
}

// Store returns the underlying table store
func (d *DMap[K, V]) Store() table.Store {
	return d.store
}

// WriteMetrics writes the metrics of this map in Prometheus text format
func (d *DMap[K, V]) WriteMetrics(w io.Writer) {
	d.metrics.write(w)
}

// --------------------------------------------------------------------------
// Map Operations
// --------------------------------------------------------------------------

// Set stores value under key. An existing value is removed completely
// (manifest entry and fragments) before the new fragments are written.
// A nil value fails with ValueInvalid before any transaction starts.
// Set returns the map so calls can be chained.
func (d *DMap[K, V]) Set(ctx context.Context, key K, value V) (_ *DMap[K, V], err error) {
	defer d.metrics.observe("set", time.Now(), &err)
	k := d.keyFunc(key)

	if isNil(any(value)) {
		return d, newError(CodeValueInvalid, k, "value must not be nil")
	}
	payloads, err := d.codec.Split(value)
	if err != nil {
		return d, wrapError(CodeValueInvalid, k, err, "split failed")
	}

	err = d.store.Transaction(ctx, table.ModeReadWrite, d.tables, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}

		entries, err := m.lookup(k)
		if err != nil {
			return err
		}
		switch len(entries) {
		case 0:
		case 1:
			Logger.Debugf("map %s: overwriting key %q (%d fragments)", d.name, k, len(entries[0].Frags))
			if err := d.removeEntry(tx, m, entries[0]); err != nil {
				return err
			}
		default:
			Logger.Warningf("map %s: %d manifest entries for key %q", d.name, len(entries), k)
			return newError(CodeManifestConflict, k, "%d manifest entries", len(entries))
		}

		shards := d.pool.Allocate(len(payloads))
		frags := make([]Address, len(payloads))
		perShard := make(map[int][]table.Record)
		for i, payload := range payloads {
			id := fragmentID(k, i)
			frags[i] = Address{Shard: shards[i], FragmentID: id}
			perShard[shards[i]] = append(perShard[shards[i]], fragmentRecord(k, id, payload))
		}

		for _, shard := range sortedShards(perShard) {
			t, err := tx.Table(d.pool.Table(shard))
			if err != nil {
				return err
			}
			if err := t.BulkAdd(perShard[shard]); err != nil {
				if errors.Is(err, table.ErrConstraint) {
					Logger.Warningf("map %s: orphaned fragment blocks key %q in shard %d", d.name, k, shard)
					return wrapError(CodeManifestConflict, k, err, "fragment already exists in shard %d", shard)
				}
				return fmt.Errorf("write fragments to shard %d: %w", shard, err)
			}
		}

		return m.insert(Entry{ID: k, Key: k, Frags: frags})
	})
	if err != nil {
		return d, err
	}
	d.metrics.fragments(len(payloads))
	return d, nil
}

// Get returns the value stored under key. An absent key returns ok == false
// and no error. A damaged key fails with FragmentMissing, FragmentCorrupt or
// ManifestConflict.
func (d *DMap[K, V]) Get(ctx context.Context, key K) (value V, ok bool, err error) {
	defer d.metrics.observe("get", time.Now(), &err)
	k := d.keyFunc(key)

	var payloads [][]byte
	err = d.store.Transaction(ctx, table.ModeRead, d.tables, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		entries, err := m.lookup(k)
		if err != nil {
			return err
		}
		switch len(entries) {
		case 0:
			return nil
		case 1:
		default:
			Logger.Warningf("map %s: %d manifest entries for key %q", d.name, len(entries), k)
			return newError(CodeManifestConflict, k, "%d manifest entries", len(entries))
		}

		ok = true
		payloads = make([][]byte, len(entries[0].Frags))
		for i, addr := range entries[0].Frags {
			if payloads[i], err = d.readFragment(tx, k, addr); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || !ok {
		return value, false, err
	}

	value, err = d.codec.Join(payloads)
	if err != nil {
		return value, false, fmt.Errorf("dmap: join %q: %w", k, err)
	}
	return value, true, nil
}

// readFragment loads and verifies the fragment at addr
func (d *DMap[K, V]) readFragment(tx table.Tx, key string, addr Address) ([]byte, error) {
	if addr.Shard < 0 || addr.Shard >= d.pool.Len() {
		Logger.Warningf("map %s: key %q references shard %d of %d", d.name, key, addr.Shard, d.pool.Len())
		return nil, newError(CodeFragmentMissing, key, "fragment %s references unknown shard %d", addr.FragmentID, addr.Shard)
	}
	t, err := tx.Table(d.pool.Table(addr.Shard))
	if err != nil {
		return nil, err
	}

	recs, err := t.Where(shardSchema.PrimaryKey, addr.FragmentID)
	if err != nil {
		return nil, fmt.Errorf("read fragment %s: %w", addr.FragmentID, err)
	}
	switch len(recs) {
	case 0:
		Logger.Warningf("map %s: fragment %s of key %q missing in shard %d", d.name, addr.FragmentID, key, addr.Shard)
		return nil, newError(CodeFragmentMissing, key, "fragment %s missing in shard %d", addr.FragmentID, addr.Shard)
	case 1:
	default:
		Logger.Warningf("map %s: %d records for fragment %s of key %q", d.name, len(recs), addr.FragmentID, key)
		return nil, newError(CodeManifestConflict, key, "%d records for fragment %s in shard %d", len(recs), addr.FragmentID, addr.Shard)
	}

	payload, valid := fragmentPayload(recs[0].Data)
	if !valid {
		Logger.Warningf("map %s: checksum mismatch for fragment %s of key %q", d.name, addr.FragmentID, key)
		return nil, newError(CodeFragmentCorrupt, key, "checksum mismatch for fragment %s in shard %d", addr.FragmentID, addr.Shard)
	}
	return payload, nil
}

// Delete removes key and all its fragments. It reports whether the key was present.
func (d *DMap[K, V]) Delete(ctx context.Context, key K) (removed bool, err error) {
	defer d.metrics.observe("delete", time.Now(), &err)
	k := d.keyFunc(key)

	present, err := d.has(ctx, k)
	if err != nil || !present {
		return false, err
	}

	err = d.store.Transaction(ctx, table.ModeReadWrite, d.tables, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		entries, err := m.lookup(k)
		if err != nil {
			return err
		}
		switch len(entries) {
		case 0:
			// removed concurrently since the check
			return nil
		case 1:
			removed = true
			return d.removeEntry(tx, m, entries[0])
		default:
			Logger.Warningf("map %s: %d manifest entries for key %q", d.name, len(entries), k)
			return newError(CodeManifestConflict, k, "%d manifest entries", len(entries))
		}
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// removeEntry deletes the fragments of e grouped by shard, then e itself
func (d *DMap[K, V]) removeEntry(tx table.Tx, m manifestStore, e Entry) error {
	perShard := make(map[int][]string)
	for _, addr := range e.Frags {
		if addr.Shard < 0 || addr.Shard >= d.pool.Len() {
			// the fragment stays behind in a table this map does not open
			Logger.Warningf("map %s: key %q references shard %d outside of [0, %d), skipping fragment %s",
				d.name, e.Key, addr.Shard, d.pool.Len(), addr.FragmentID)
			continue
		}
		perShard[addr.Shard] = append(perShard[addr.Shard], addr.FragmentID)
	}
	for _, shard := range sortedShards(perShard) {
		t, err := tx.Table(d.pool.Table(shard))
		if err != nil {
			return err
		}
		if err := t.BulkDelete(perShard[shard]); err != nil {
			return fmt.Errorf("delete fragments from shard %d: %w", shard, err)
		}
	}
	return m.remove(e)
}

// Has reports whether key has a manifest entry. It does not check the fragments.
func (d *DMap[K, V]) Has(ctx context.Context, key K) (ok bool, err error) {
	defer d.metrics.observe("has", time.Now(), &err)
	return d.has(ctx, d.keyFunc(key))
}

func (d *DMap[K, V]) has(ctx context.Context, k string) (ok bool, err error) {
	err = d.store.Transaction(ctx, table.ModeRead, []string{manifestTable}, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		ok, err = m.exists(k)
		return err
	})
	return ok, err
}

// Clear removes every key and every fragment in one transaction
func (d *DMap[K, V]) Clear(ctx context.Context) (err error) {
	defer d.metrics.observe("clear", time.Now(), &err)

	err = d.store.Transaction(ctx, table.ModeReadWrite, d.tables, func(tx table.Tx) error {
		for _, name := range d.pool.Tables() {
			t, err := tx.Table(name)
			if err != nil {
				return err
			}
			if err := t.Clear(); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		return m.clear()
	})
	if err == nil {
		Logger.Infof("map %s: cleared", d.name)
	}
	return err
}

// Size returns the number of keys. Under concurrent writes the result is a
// snapshot that may already be outdated when it is returned.
func (d *DMap[K, V]) Size(ctx context.Context) (n int, err error) {
	defer d.metrics.observe("size", time.Now(), &err)

	err = d.store.Transaction(ctx, table.ModeRead, []string{manifestTable}, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		n, err = m.count()
		return err
	})
	return n, err
}

// Close releases the underlying store. No other method may be called afterwards.
func (d *DMap[K, V]) Close() error {
	Logger.Infof("closing map %s", d.name)
	return d.store.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// sortedShards returns the keys of m in ascending order
func sortedShards[T any](m map[int]T) []int {
	shards := make([]int, 0, len(m))
	for s := range m {
		shards = append(shards, s)
	}
	sort.Ints(shards)
	return shards
}
