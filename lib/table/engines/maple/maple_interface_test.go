package maple

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dMap/lib/table"
	tabletesting "github.com/ValentinKolb/dMap/lib/table/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	tabletesting.RunStoreTests(t, "Maple", func() table.Store {
		store, _ := NewMapleStore(nil)
		return store
	})
}

func Benchmark(b *testing.B) {
	tabletesting.RunStoreBenchmarks(b, "Maple", func() table.Store {
		store, _ := NewMapleStore(nil)
		return store
	})
}

func TestSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	open := Opener(dir)

	store, err := open("demo")
	require.NoError(t, err)
	require.NoError(t, store.CreateTable("t", table.Schema{PrimaryKey: "id", Indexes: []string{"key"}}))
	err = store.Transaction(context.Background(), table.ModeReadWrite, []string{"t"}, func(tx table.Tx) error {
		tbl, err := tx.Table("t")
		if err != nil {
			return err
		}
		return tbl.Add(table.Record{ID: "a", Attrs: map[string]string{"key": "k"}, Data: []byte("v")})
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.FileExists(t, filepath.Join(dir, "demo"+snapshotSuffix))

	reopened, err := open("demo")
	require.NoError(t, err)
	defer reopened.Close()

	info, err := reopened.Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.Tables["t"])

	// the key index is rebuilt while loading
	err = reopened.Transaction(context.Background(), table.ModeRead, []string{"t"}, func(tx table.Tx) error {
		tbl, err := tx.Table("t")
		if err != nil {
			return err
		}
		recs, err := tbl.Where("key", "k")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "a", recs[0].ID)
		return nil
	})
	require.NoError(t, err)

	// a different name is a different store
	other, err := open("other")
	require.NoError(t, err)
	defer other.Close()
	info, err = other.Info()
	require.NoError(t, err)
	assert.Empty(t, info.Tables)
}

func TestLoadTruncatedSnapshot(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magicNum)
	buf.WriteByte(mapleVersion)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(1)<<31)) // table count
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(0xfffffff0))) // name length
	buf.WriteString("only a few bytes")

	store, err := NewMapleStore(nil)
	require.NoError(t, err)
	defer store.Close()

	err = store.(table.Persister).Load(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// a failed load leaves the store untouched
	info, err := store.Info()
	require.NoError(t, err)
	assert.Empty(t, info.Tables)
}
