package util

import (
	"math"
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarizes a series of values
type Stats struct {
	StdDeviation float64 `json:"std_deviation" yaml:"std_deviation"`
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	Mean         float64 `json:"mean" yaml:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio" yaml:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, min and max of values.
// An empty series yields the zero Stats.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0], MinMaxRatio: 1}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - s.Mean) * (v - s.Mean)
	}
	s.StdDeviation = math.Sqrt(sq / float64(len(values)))

	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

// DistributionStats rates how evenly items are spread over buckets (e.g. fragments over shards)
type DistributionStats struct {
	Stats   `yaml:",inline"`
	Quality float64 `json:"distribution_quality" yaml:"distribution_quality"`
}

// NewDistributionStats computes the distribution quality of per-bucket counts.
// Quality is in [0, 1], 1 means perfectly even. It averages the inverted
// coefficient of variation (capped at 1) and the min/max ratio.
func NewDistributionStats(counts []float64) DistributionStats {
	stats := NewStats(counts)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:   stats,
		Quality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the inclusive upper bounds of the histogram buckets,
// growing by 4x from 16 B to 4 GiB. Larger sizes land in an overflow bucket.
var sizeBoundaries = []int{
	16, 64, 256, 1 << 10, 4 << 10,
	16 << 10, 64 << 10, 256 << 10, 1 << 20,
	4 << 20, 16 << 20, 64 << 20,
	256 << 20, 1 << 30, 4 << 30,
}

// SizeHistogram tracks the distribution of byte sizes in exponential buckets.
// Percentiles are estimated from bucket midpoints, so they are approximate.
//
// Thread-safety: All methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records one size
func (h *SizeHistogram) AddSample(size int) {
	i := sort.SearchInts(sizeBoundaries, size)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets[i]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Sum returns the total of all samples
func (h *SizeHistogram) Sum() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

// AverageSize returns the exact mean of all samples
func (h *SizeHistogram) AverageSize() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the given percentile (0-100), 0 for an empty histogram
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative >= target && n > 0 {
			return bucketEstimate(i)
		}
	}
	return int(h.sum / h.count)
}

// bucketEstimate returns a representative size for bucket i
func bucketEstimate(i int) int {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}

// Reset clears all samples
func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buckets)
	h.count = 0
	h.sum = 0
}

// HistogramSummary is a printable view of a SizeHistogram
type HistogramSummary struct {
	Count   int64 `json:"count" yaml:"count"`
	Total   int64 `json:"total_bytes" yaml:"total_bytes"`
	Average int   `json:"avg_bytes" yaml:"avg_bytes"`
	P50     int   `json:"p50_bytes" yaml:"p50_bytes"`
	P90     int   `json:"p90_bytes" yaml:"p90_bytes"`
	P99     int   `json:"p99_bytes" yaml:"p99_bytes"`
}

// Summary returns count, total, average and the p50/p90/p99 estimates
func (h *SizeHistogram) Summary() HistogramSummary {
	return HistogramSummary{
		Count:   h.Count(),
		Total:   h.Sum(),
		Average: h.AverageSize(),
		P50:     h.Percentile(50),
		P90:     h.Percentile(90),
		P99:     h.Percentile(99),
	}
}
