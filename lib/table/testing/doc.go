// Package testing provides standardised tests and benchmarks for
// store implementations that satisfy the table.Store interface.
//
// The package contains:
//   - testing: A conformance suite for the Store, Tx and Table contract
//     (CRUD, index lookups, scopes, read-only mode, rollback, isolation)
//   - benchmark: Throughput of the operations dMap issues against a store
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() table.Store {
//		return NewMyStore()
//	}
//
//	// Running the standard test suite
//	tabletesting.RunStoreTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	tabletesting.RunStoreBenchmarks(b, "MyStore", factory)
package testing
