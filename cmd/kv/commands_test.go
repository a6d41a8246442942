package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/lib/dmap"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// run executes the kv command group with args against a snapshot backed memory map in dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	KeyValueCommands.SetOut(&out)
	KeyValueCommands.SetErr(&out)
	KeyValueCommands.SetArgs(append(args,
		"--engine", "memory",
		"--data-dir", dir,
		"--name", "cli-test",
		"--format", formatOf(args),
	))
	err := KeyValueCommands.Execute()
	return out.String(), err
}

// formatOf keeps the format flag sticky across runs, cobra does not reset flag values
func formatOf(args []string) string {
	for i, a := range args {
		if a == "--format" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return "text"
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "set", "greeting", "hello")
	require.NoError(t, err)
	assert.Equal(t, "set successfully\n", out)

	out, err = run(t, dir, "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = run(t, dir, "has", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "key=greeting, found=true\n", out)

	out, err = run(t, dir, "get", "missing")
	require.NoError(t, err)
	assert.Equal(t, "key=missing, found=false\n", out)

	out, err = run(t, dir, "size")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, dir, "get", "greeting", "--format", "json")
	require.NoError(t, err)
	var res keyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, keyResult{Key: "greeting", Found: true, Value: "hello"}, res)

	out, err = run(t, dir, "verify", "--format", "yaml")
	require.NoError(t, err)
	var report dmap.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Keys)
	assert.Equal(t, 1, report.Fragments)

	out, err = run(t, dir, "stats", "--format", "json")
	require.NoError(t, err)
	var stats dmap.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "cli-test", stats.Name)
	assert.Equal(t, 1, stats.Keys)

	out, err = run(t, dir, "del", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "key=greeting, removed=true\n", out)

	out, err = run(t, dir, "del", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "key=greeting, removed=false\n", out)

	_, err = run(t, dir, "set", "a", "1")
	require.NoError(t, err)
	_, err = run(t, dir, "clear")
	require.NoError(t, err)
	out, err = run(t, dir, "size")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestCloseOnError(t *testing.T) {
	cfg := &util.MapConfig{
		Name:       "close-on-error",
		Engine:     util.EngineMemory,
		DataDir:    t.TempDir(),
		Shards:     2,
		Serializer: "binary",
		Format:     util.FormatText,
	}
	m, err := util.OpenMap[[]byte](cfg)
	require.NoError(t, err)
	byteMap = m

	errFailed := errors.New("failed")
	runE := closeOnError(func(_ *cobra.Command, _ []string) error {
		if _, err := byteMap.Set(context.Background(), "k", []byte("v")); err != nil {
			return err
		}
		return errFailed
	})
	require.ErrorIs(t, runE(nil, nil), errFailed)
	assert.Nil(t, byteMap)

	// the snapshot written on close holds the write
	m, err = util.OpenMap[[]byte](cfg)
	require.NoError(t, err)
	defer m.Close()
	v, ok, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestReportText(t *testing.T) {
	text := reportText(dmap.Report{
		Keys:      2,
		Fragments: 2,
		Issues:    []dmap.Issue{{Key: "a", Kind: "FragmentMissing", Address: dmap.Address{Shard: 1, FragmentID: "a-0"}}},
		Orphans:   []dmap.Address{{Shard: 0, FragmentID: "z-0"}},
	})
	assert.Contains(t, text, "keys=2, fragments=2, issues=1, orphans=1")
	assert.Contains(t, text, "key=a shard=1 fragment=a-0")
	assert.Contains(t, text, "shard=0 fragment=z-0")
}
