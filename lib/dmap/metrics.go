package dmap

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// mapMetrics holds the operation metrics of one map in its own metrics.Set,
// so several maps (or tests) never share counters
type mapMetrics struct {
	set  *metrics.Set
	name string
}

func newMapMetrics(name string, pool *ShardPool) *mapMetrics {
	m := &mapMetrics{set: metrics.NewSet(), name: name}
	m.set.NewGauge(fmt.Sprintf(`dmap_alloc_cursor{map=%q}`, name), func() float64 {
		return float64(pool.Cursor())
	})
	m.set.NewGauge(fmt.Sprintf(`dmap_shards{map=%q}`, name), func() float64 {
		return float64(pool.Len())
	})
	return m
}

// observe records one finished operation, it is deferred with a pointer to the named error result
func (m *mapMetrics) observe(op string, start time.Time, errp *error) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dmap_ops_total{map=%q,op=%q}`, m.name, op)).Inc()
	m.set.GetOrCreateHistogram(fmt.Sprintf(`dmap_op_duration_seconds{map=%q,op=%q}`, m.name, op)).UpdateDuration(start)
	if *errp != nil {
		m.set.GetOrCreateCounter(fmt.Sprintf(`dmap_errors_total{map=%q,op=%q}`, m.name, op)).Inc()
	}
}

// fragments records the number of fragments written by one set
func (m *mapMetrics) fragments(n int) {
	m.set.GetOrCreateCounter(fmt.Sprintf(`dmap_fragments_written_total{map=%q}`, m.name)).Add(n)
}

func (m *mapMetrics) write(w io.Writer) {
	m.set.WritePrometheus(w)
}
