package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/lib/dmap"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for maps",
		Long: `Runs set, set-large, get, has, has-not, delete and mixed benchmarks against a
temporary map (named <name>-perf-<uuid>) in the configured engine. The map is
removed afterwards, existing maps are never touched.`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU used by the benchmarks"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfBench describes one benchmark. If seed is true every key is set before
// the timer starts.
type perfBench struct {
	name string
	seed bool
	op   func(ctx context.Context, m *dmap.DMap[string, []byte], key string, i int) error
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	bench   testing.BenchmarkResult
	latency metrics.Timer
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := *mapConfig
	cfg.Name = fmt.Sprintf("%s-perf-%s", mapConfig.Name, uuid.NewString())

	fmt.Println("Performance testing tool for maps")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	m, err := util.OpenMap[[]byte](&cfg)
	if err != nil {
		return err
	}
	defer cleanupPerfMap(m, &cfg)

	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)

	benches := []perfBench{
		{name: "set", op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, err := m.Set(ctx, key, small)
			return err
		}},
		{name: "set-large", op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, err := m.Set(ctx, key, large)
			return err
		}},
		{name: "get", seed: true, op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, _, err := m.Get(ctx, key)
			return err
		}},
		{name: "has", seed: true, op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, err := m.Has(ctx, key)
			return err
		}},
		{name: "has-not", op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, err := m.Has(ctx, key)
			return err
		}},
		{name: "delete", seed: true, op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, _ int) error {
			_, err := m.Delete(ctx, key)
			return err
		}},
		{name: "mixed", seed: true, op: func(ctx context.Context, m *dmap.DMap[string, []byte], key string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				_, err = m.Set(ctx, key, small)
			case 1:
				_, _, err = m.Get(ctx, key)
			case 2:
				_, err = m.Delete(ctx, key)
			case 3:
				_, err = m.Has(ctx, key)
			}
			return err
		}},
	}

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	results := make(map[string]perfResult, len(benches))
	for _, bench := range benches {
		timer := metrics.GetOrRegisterTimer(bench.name, registry)
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bench.name) {
				return
			}
			runBench(ctx, b, m, bench, timer)
		})
		results[bench.name] = perfResult{bench: result, latency: timer}
		printResult(bench.name, result, timer)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, &cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBench runs one benchmark on its own key range and clears the map afterwards
func runBench(ctx context.Context, b *testing.B, m *dmap.DMap[string, []byte], bench perfBench, timer metrics.Timer) {
	getKey, iter := getKeys(bench.name)

	if bench.seed {
		iter(func(k string) {
			if _, err := m.Set(ctx, k, []byte("test")); err != nil {
				Logger.Errorf("(%s) - error setting key: %v", bench.name, err)
			}
		})
	}

	b.Cleanup(func() {
		if err := m.Clear(ctx); err != nil {
			Logger.Errorf("(%s) - error clearing map: %v", bench.name, err)
		}
	})

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			start := time.Now()
			if err := bench.op(ctx, m, getKey(counter), counter); err != nil {
				Logger.Errorf("(%s) - error: %v", bench.name, err)
			}
			timer.UpdateSince(start)
			counter++
		}
	})
}

// cleanupPerfMap closes the temporary map and removes its files
func cleanupPerfMap(m *dmap.DMap[string, []byte], cfg *util.MapConfig) {
	if err := m.Close(); err != nil {
		Logger.Warningf("failed to close perf map: %v", err)
	}
	if cfg.DataDir == "" {
		return
	}
	files, _ := filepath.Glob(filepath.Join(cfg.DataDir, cfg.Name+".*"))
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			Logger.Warningf("failed to remove %s: %v", f, err)
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%d", prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer metrics.Timer) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	snap := timer.Snapshot()
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tlatency mean=%s p50=%s p99=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(snap.Mean()), time.Duration(snap.Percentile(0.5)), time.Duration(snap.Percentile(0.99)))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, cfg *util.MapConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"MeanNs", "P50Ns", "P99Ns",
		"Engine", "Shards", "Serializer", "ChunkSize", "Compression",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.bench.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		snap := result.latency.Snapshot()

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			fmt.Sprintf("%.0f", snap.Mean()),
			fmt.Sprintf("%.0f", snap.Percentile(0.5)),
			fmt.Sprintf("%.0f", snap.Percentile(0.99)),
			cfg.Engine,
			strconv.Itoa(cfg.Shards),
			cfg.Serializer,
			strconv.Itoa(cfg.ChunkSize),
			cfg.Compression,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
