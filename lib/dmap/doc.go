// Package dmap implements DMap, a fragment-sharded key/value map on top of a
// transactional table store (github.com/ValentinKolb/dMap/lib/table).
//
// A value is split by a codec into an ordered list of fragments. The fragments
// are written round-robin into N shard tables and a manifest table records,
// per key, where each fragment lives. Reads resolve the manifest entry, load
// the fragments in manifest order and join them back into the value.
//
// Key Components:
//
//   - Codec: Split/Join functions (github.com/ValentinKolb/dMap/lib/codec).
//     The default stores the JSON encoding of the value as a single fragment.
//
//   - ShardPool: The shard tables "shard-0" .. "shard-<N-1>" and the in-memory
//     allocation cursor. Allocate(n) hands out n consecutive shard indices
//     modulo N. The cursor is not persisted, a reopened map starts at shard 0.
//     Placement is best effort and never affects correctness.
//
//   - Manifest: The "manifest" table. One record per key holds the ordered
//     fragment addresses (shard index + fragment id). Records are found through
//     an index on the key, so a duplicated entry is reported as ManifestConflict.
//
//   - DMap: The facade. Set, Delete and Clear run in one read-write transaction
//     spanning the manifest and every shard. Get runs in a read transaction over
//     the same tables. Has and Size only read the manifest.
//
// Invariants (outside of a running transaction):
//  1. Every fragment address of a manifest entry resolves to exactly one record.
//  2. Every fragment record is referenced by exactly one manifest entry.
//  3. A key has at most one manifest entry.
//  4. The order of the addresses equals the split order of the stored value.
//
// Fragments are stored as an 8 byte xxh3 checksum followed by the payload.
// Get verifies the checksum, a mismatch fails with FragmentCorrupt.
//
// Fragment ids are derived as "<key>-<index>" from the string form of the key,
// which is why KeyFunc must be injective. Verify reports broken invariants
// (missing or corrupt fragments, duplicated entries, orphaned fragments)
// without changing anything.
//
// Example usage:
//
//	m, err := dmap.New(dmap.Config[string, Document]{Name: "docs"})
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	if _, err := m.Set(ctx, "readme", doc); err != nil {
//		return err
//	}
//	doc, ok, err := m.Get(ctx, "readme")
package dmap
