package dmap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMap/lib/table"
)

const manifestTable = "manifest"

// manifestSchema: entries are looked up through the key index, so a second
// entry for the same key is detected instead of hidden by the primary key
var manifestSchema = table.Schema{PrimaryKey: "id", Indexes: []string{"key"}}

// Address locates one fragment
type Address struct {
	Shard      int    `json:"shard" yaml:"shard"`
	FragmentID string `json:"fragment_id" yaml:"fragment_id"`
}

// Entry maps a key to its fragment addresses in split order
type Entry struct {
	ID    string // record id in the manifest table
	Key   string
	Frags []Address
}

// --------------------------------------------------------------------------
// Manifest Store
// --------------------------------------------------------------------------

// manifestStore wraps the manifest table of one transaction
type manifestStore struct {
	t table.Table
}

func openManifest(tx table.Tx) (manifestStore, error) {
	t, err := tx.Table(manifestTable)
	if err != nil {
		return manifestStore{}, err
	}
	return manifestStore{t: t}, nil
}

// lookup returns every entry for key, more than one is an invariant violation
func (m manifestStore) lookup(key string) ([]Entry, error) {
	recs, err := m.t.Where("key", key)
	if err != nil {
		return nil, fmt.Errorf("manifest lookup: %w", err)
	}
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := decodeEntry(rec)
		if err != nil {
			return nil, wrapError(CodeManifestConflict, key, err, "unreadable manifest entry %q", rec.ID)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// exists reports whether key has at least one entry without decoding it
func (m manifestStore) exists(key string) (bool, error) {
	recs, err := m.t.Where("key", key)
	if err != nil {
		return false, fmt.Errorf("manifest lookup: %w", err)
	}
	return len(recs) > 0, nil
}

func (m manifestStore) insert(e Entry) error {
	if e.ID == "" {
		e.ID = e.Key
	}
	err := m.t.Add(table.Record{
		ID:    e.ID,
		Attrs: map[string]string{"key": e.Key},
		Data:  encodeFrags(e.Frags),
	})
	if errors.Is(err, table.ErrConstraint) {
		return wrapError(CodeManifestConflict, e.Key, err, "manifest entry %q already exists", e.ID)
	}
	return err
}

func (m manifestStore) remove(entries ...Entry) error {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return m.t.BulkDelete(ids)
}

func (m manifestStore) clear() error {
	return m.t.Clear()
}

func (m manifestStore) count() (int, error) {
	return m.t.Count()
}

// scan calls fn for every entry, undecodable records are passed with err set
func (m manifestStore) scan(fn func(e Entry, err error) bool) error {
	return m.t.Scan(func(rec table.Record) bool {
		e, err := decodeEntry(rec)
		return fn(e, err)
	})
}

// --------------------------------------------------------------------------
// Entry Encoding
// --------------------------------------------------------------------------

// entryVersion is the first byte of every encoded fragment list
const entryVersion = 1

// encodeFrags writes: version, uvarint count, then per fragment
// uvarint shard, uvarint id length, id bytes
func encodeFrags(frags []Address) []byte {
	size := 1 + binary.MaxVarintLen64
	for _, a := range frags {
		size += 2*binary.MaxVarintLen64 + len(a.FragmentID)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, entryVersion)
	buf = binary.AppendUvarint(buf, uint64(len(frags)))
	for _, a := range frags {
		buf = binary.AppendUvarint(buf, uint64(a.Shard))
		buf = binary.AppendUvarint(buf, uint64(len(a.FragmentID)))
		buf = append(buf, a.FragmentID...)
	}
	return buf
}

var errBadEntry = errors.New("malformed manifest entry")

func decodeFrags(data []byte) ([]Address, error) {
	if len(data) == 0 || data[0] != entryVersion {
		return nil, fmt.Errorf("%w: unknown version", errBadEntry)
	}
	pos := 1

	next := func() (uint64, error) {
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return 0, fmt.Errorf("%w: truncated at byte %d", errBadEntry, pos)
		}
		pos += n
		return v, nil
	}

	count, err := next()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("%w: fragment count %d exceeds entry size", errBadEntry, count)
	}

	frags := make([]Address, 0, count)
	for i := uint64(0); i < count; i++ {
		shard, err := next()
		if err != nil {
			return nil, err
		}
		l, err := next()
		if err != nil {
			return nil, err
		}
		if uint64(len(data)-pos) < l {
			return nil, fmt.Errorf("%w: truncated fragment id", errBadEntry)
		}
		frags = append(frags, Address{Shard: int(shard), FragmentID: string(data[pos : pos+int(l)])})
		pos += int(l)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", errBadEntry, len(data)-pos)
	}
	return frags, nil
}

func decodeEntry(rec table.Record) (Entry, error) {
	frags, err := decodeFrags(rec.Data)
	return Entry{ID: rec.ID, Key: rec.Attrs["key"], Frags: frags}, err
}
