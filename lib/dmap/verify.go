package dmap

import (
	"context"
	"sort"
	"time"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/util"
)

// --------------------------------------------------------------------------
// Verify
// --------------------------------------------------------------------------

// Issue describes one damaged key
type Issue struct {
	Key     string  `json:"key" yaml:"key"`
	Code    Code    `json:"-" yaml:"-"`
	Kind    string  `json:"kind" yaml:"kind"`
	Address Address `json:"address" yaml:"address"`
}

// Report is the result of Verify
type Report struct {
	Keys      int       `json:"keys" yaml:"keys"`
	Fragments int       `json:"fragments" yaml:"fragments"`
	Issues    []Issue   `json:"issues" yaml:"issues"`
	Orphans   []Address `json:"orphans" yaml:"orphans"` // fragments no manifest entry references
}

// Healthy reports whether Verify found neither issues nor orphans
func (r Report) Healthy() bool {
	return len(r.Issues) == 0 && len(r.Orphans) == 0
}

// Verify checks every manifest entry against the shards inside one read
// transaction. It lists keys with missing or corrupt fragments, duplicated
// manifest entries and fragments that no entry references. It never repairs.
func (d *DMap[K, V]) Verify(ctx context.Context) (report Report, err error) {
	defer d.metrics.observe("verify", time.Now(), &err)

	err = d.store.Transaction(ctx, table.ModeRead, d.tables, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		shards := make([]table.Table, d.pool.Len())
		for i := range shards {
			if shards[i], err = tx.Table(d.pool.Table(i)); err != nil {
				return err
			}
		}

		issue := func(key string, code Code, addr Address) {
			report.Issues = append(report.Issues, Issue{Key: key, Code: code, Kind: code.String(), Address: addr})
		}

		referenced := make(map[Address]bool)
		seenKeys := make(map[string]bool)
		var scanErr error

		err = m.scan(func(e Entry, decodeErr error) bool {
			report.Keys++
			if decodeErr != nil {
				issue(e.Key, CodeManifestConflict, Address{Shard: -1, FragmentID: e.ID})
				return true
			}
			if seenKeys[e.Key] {
				issue(e.Key, CodeManifestConflict, Address{Shard: -1, FragmentID: e.ID})
			}
			seenKeys[e.Key] = true

			for _, addr := range e.Frags {
				referenced[addr] = true
				if addr.Shard < 0 || addr.Shard >= len(shards) {
					issue(e.Key, CodeFragmentMissing, addr)
					continue
				}
				rec, ok, err := shards[addr.Shard].Get(addr.FragmentID)
				if err != nil {
					scanErr = err
					return false
				}
				if !ok {
					issue(e.Key, CodeFragmentMissing, addr)
					continue
				}
				if _, valid := fragmentPayload(rec.Data); !valid {
					issue(e.Key, CodeFragmentCorrupt, addr)
				}
			}
			return true
		})
		if err != nil {
			return err
		}
		if scanErr != nil {
			return scanErr
		}

		for i, t := range shards {
			err := t.Scan(func(rec table.Record) bool {
				report.Fragments++
				addr := Address{Shard: i, FragmentID: rec.ID}
				if !referenced[addr] {
					report.Orphans = append(report.Orphans, addr)
				}
				return true
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	sort.Slice(report.Issues, func(i, j int) bool {
		if report.Issues[i].Key != report.Issues[j].Key {
			return report.Issues[i].Key < report.Issues[j].Key
		}
		return report.Issues[i].Address.FragmentID < report.Issues[j].Address.FragmentID
	})
	sort.Slice(report.Orphans, func(i, j int) bool {
		if report.Orphans[i].Shard != report.Orphans[j].Shard {
			return report.Orphans[i].Shard < report.Orphans[j].Shard
		}
		return report.Orphans[i].FragmentID < report.Orphans[j].FragmentID
	})

	if !report.Healthy() {
		Logger.Warningf("map %s: verify found %d issues and %d orphaned fragments", d.name, len(report.Issues), len(report.Orphans))
	}
	return report, nil
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// Stats describes how the map is laid out over its shards
type Stats struct {
	Name          string                 `json:"name" yaml:"name"`
	Keys          int                    `json:"keys" yaml:"keys"`
	Shards        map[string]int         `json:"shards" yaml:"shards"` // shard table -> fragment count
	Distribution  util.DistributionStats `json:"distribution" yaml:"distribution"`
	FragmentSizes util.HistogramSummary  `json:"fragment_sizes" yaml:"fragment_sizes"`
	Cursor        int                    `json:"cursor" yaml:"cursor"`
}

// Stats counts keys and fragments per shard in one read transaction and
// rates how evenly the fragments are spread
func (d *DMap[K, V]) Stats(ctx context.Context) (stats Stats, err error) {
	defer d.metrics.observe("stats", time.Now(), &err)

	stats = Stats{Name: d.name, Shards: make(map[string]int, d.pool.Len())}
	sizes := util.NewSizeHistogram()
	counts := make([]float64, d.pool.Len())

	err = d.store.Transaction(ctx, table.ModeRead, d.tables, func(tx table.Tx) error {
		m, err := openManifest(tx)
		if err != nil {
			return err
		}
		if stats.Keys, err = m.count(); err != nil {
			return err
		}

		for i, name := range d.pool.Tables() {
			t, err := tx.Table(name)
			if err != nil {
				return err
			}
			n := 0
			err = t.Scan(func(rec table.Record) bool {
				n++
				sizes.AddSample(max(len(rec.Data)-checksumSize, 0))
				return true
			})
			if err != nil {
				return err
			}
			stats.Shards[name] = n
			counts[i] = float64(n)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	stats.Distribution = util.NewDistributionStats(counts)
	stats.FragmentSizes = sizes.Summary()
	stats.Cursor = d.pool.Cursor()
	return stats, nil
}
