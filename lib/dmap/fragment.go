package dmap

import (
	"encoding/binary"
	"strconv"

	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/zeebo/xxh3"
)

// checksumSize is the length of the xxh3 prefix of every fragment record
const checksumSize = 8

// fragmentID derives the id of fragment i of key. The suffix after the last
// '-' is always the decimal index, so ids of different (key, index) pairs
// never collide as long as KeyFunc is injective.
func fragmentID(key string, i int) string {
	return key + "-" + strconv.Itoa(i)
}

// fragmentRecord wraps a payload as record: 8 byte big endian xxh3 + payload
func fragmentRecord(key, id string, payload []byte) table.Record {
	data := make([]byte, checksumSize+len(payload))
	binary.BigEndian.PutUint64(data, xxh3.Hash(payload))
	copy(data[checksumSize:], payload)
	return table.Record{ID: id, Attrs: map[string]string{"key": key}, Data: data}
}

// fragmentPayload verifies the checksum and returns the payload
func fragmentPayload(data []byte) ([]byte, bool) {
	if len(data) < checksumSize {
		return nil, false
	}
	payload := data[checksumSize:]
	return payload, binary.BigEndian.Uint64(data) == xxh3.Hash(payload)
}
