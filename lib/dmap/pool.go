package dmap

import (
	"strconv"
	"sync/atomic"

	"github.com/ValentinKolb/dMap/lib/table"
)

const shardPrefix = "shard-"

// shardSchema: fragments are addressed by id and indexed by their owning key
var shardSchema = table.Schema{PrimaryKey: "frag_id", Indexes: []string{"key"}}

// ShardPool owns the shard table names and the round-robin allocation cursor.
// The cursor lives only in memory, a new pool starts at shard 0.
//
// Thread-safety: Allocate is safe for concurrent use. Each call receives a
// contiguous block of cursor positions, so the shards of one call never
// interleave with another call.
type ShardPool struct {
	tables []string
	cursor atomic.Uint64
}

func newShardPool(n int) *ShardPool {
	p := &ShardPool{tables: make([]string, n)}
	for i := range p.tables {
		p.tables[i] = ShardName(i)
	}
	return p
}

// ShardName returns the table name of shard i
func ShardName(i int) string {
	return shardPrefix + strconv.Itoa(i)
}

// Len returns the number of shards
func (p *ShardPool) Len() int {
	return len(p.tables)
}

// Table returns the table name of shard i
func (p *ShardPool) Table(i int) string {
	return p.tables[i]
}

// Tables returns the table names of all shards in index order
func (p *ShardPool) Tables() []string {
	out := make([]string, len(p.tables))
	copy(out, p.tables)
	return out
}

// Allocate returns count consecutive shard indices and advances the cursor by count
func (p *ShardPool) Allocate(count int) []int {
	if count <= 0 {
		return nil
	}
	n := uint64(len(p.tables))
	start := p.cursor.Add(uint64(count)) - uint64(count)

	shards := make([]int, count)
	for i := range shards {
		shards[i] = int((start + uint64(i)) % n)
	}
	return shards
}

// Cursor returns the shard index the next allocation starts at
func (p *ShardPool) Cursor() int {
	return int(p.cursor.Load() % uint64(len(p.tables)))
}
