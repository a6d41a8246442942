package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMap/lib/codec"
	"github.com/ValentinKolb/dMap/lib/dmap"
	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/table/engines/maple"
	"github.com/ValentinKolb/dMap/lib/table/engines/sqlite"
	"github.com/spf13/viper"
)

const (
	EngineMemory = "memory"
	EngineSQLite = "sqlite"
)

// MapConfig is the map configuration of the command line, read from flags and DMAP_* variables
type MapConfig struct {
	Name        string
	Engine      string
	DataDir     string
	Shards      int
	Serializer  string
	ChunkSize   int
	Compression string
	LogLevel    string
	Format      string
}

// GetMapConfig reads the map configuration from viper
func GetMapConfig() *MapConfig {
	return &MapConfig{
		Name:        viper.GetString("name"),
		Engine:      viper.GetString("engine"),
		DataDir:     viper.GetString("data-dir"),
		Shards:      viper.GetInt("shards"),
		Serializer:  viper.GetString("serializer"),
		ChunkSize:   viper.GetInt("chunk-size"),
		Compression: viper.GetString("compression"),
		LogLevel:    viper.GetString("log-level"),
		Format:      viper.GetString("format"),
	}
}

// Opener returns the table store opener of the configured engine
func (c *MapConfig) Opener() (table.Opener, error) {
	switch c.Engine {
	case EngineMemory:
		if c.DataDir != "" {
			if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		return maple.Opener(c.DataDir), nil
	case EngineSQLite:
		if c.DataDir == "" {
			return nil, fmt.Errorf("engine %s requires a data dir", c.Engine)
		}
		return sqlite.Opener(c.DataDir), nil
	default:
		return nil, fmt.Errorf("invalid engine %q (%s, %s)", c.Engine, EngineMemory, EngineSQLite)
	}
}

// Codec builds the fragment codec: serializer, optional chunking, optional compression
func Codec[V any](c *MapConfig) (codec.Codec[V], error) {
	s, err := codec.NewSerializer(c.Serializer)
	if err != nil {
		return codec.Codec[V]{}, err
	}

	inner := codec.Single[V](s)
	if c.ChunkSize > 0 {
		if inner, err = codec.Chunked[V](s, c.ChunkSize); err != nil {
			return codec.Codec[V]{}, err
		}
	} else if c.ChunkSize < 0 {
		return codec.Codec[V]{}, fmt.Errorf("chunk size must not be negative")
	}

	compression, err := codec.ParseCompression(c.Compression)
	if err != nil {
		return codec.Codec[V]{}, err
	}
	return codec.Compressed(inner, compression)
}

// OpenMap opens the configured map with string keys and values of type V
func OpenMap[V any](c *MapConfig) (*dmap.DMap[string, V], error) {
	opener, err := c.Opener()
	if err != nil {
		return nil, err
	}
	cdc, err := Codec[V](c)
	if err != nil {
		return nil, err
	}
	return dmap.New(dmap.Config[string, V]{
		Name:   c.Name,
		Shards: c.Shards,
		Codec:  &cdc,
		Opener: opener,
	})
}

// String renders the effective configuration
func (c *MapConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Map")
	addField("Name", c.Name)
	addField("Shards", strconv.Itoa(c.Shards))

	addSection("Storage")
	addField("Engine", c.Engine)
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = "(none)"
	}
	addField("Data Dir", dataDir)

	addSection("Codec")
	addField("Serializer", c.Serializer)
	if c.ChunkSize > 0 {
		addField("Chunk Size", fmt.Sprintf("%d bytes", c.ChunkSize))
	} else {
		addField("Chunk Size", "single fragment")
	}
	addField("Compression", c.Compression)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
