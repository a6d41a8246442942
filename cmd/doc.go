// Package cmd implements the command-line interface of dMap. It opens a map
// in the configured table store engine and runs single operations against it.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for map operations (set, get, del, has, clear, size,
//     verify, stats) and the perf benchmark
//   - util: Shared utilities for flags, configuration and output (internal use)
//
// See dmap -help for a list of all commands.
package cmd
