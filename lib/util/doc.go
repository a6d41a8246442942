// Package util provides statistics helpers used to report on how a map is laid
// out in its store.
//
// The package contains:
//   - Stats / DistributionStats: summary statistics and an evenness score for
//     per-bucket counts, used to rate the fragment spread over shards
//   - SizeHistogram: an exponential-bucket histogram of byte sizes with
//     percentile estimates, used for fragment sizes
package util
