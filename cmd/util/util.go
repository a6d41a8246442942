package util

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupMapFlags adds the flags that describe the map to operate on
func SetupMapFlags(cmd *cobra.Command) {
	key := "name"
	cmd.PersistentFlags().String(key, "default", WrapString("Name of the map, also used as database file name"))

	key = "engine"
	cmd.PersistentFlags().String(key, EngineSQLite, WrapString("Table store engine (memory, sqlite). The memory engine writes a snapshot to the data dir on exit"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory for database files and snapshots. Empty keeps the memory engine purely in memory"))

	key = "shards"
	cmd.PersistentFlags().Int(key, 4, WrapString("Number of shard tables. Must stay the same for an existing map"))

	key = "serializer"
	cmd.PersistentFlags().String(key, "binary", WrapString("Serializer for values (json, gob, binary)"))

	key = "chunk-size"
	cmd.PersistentFlags().Int(key, 0, WrapString("Split values into fragments of this many bytes (0 stores every value as one fragment)"))

	key = "compression"
	cmd.PersistentFlags().String(key, "none", WrapString("Compression applied to every fragment (none, snappy, zstd, lz4)"))

	key = "format"
	cmd.PersistentFlags().String(key, FormatText, WrapString("Output format (text, json, yaml)"))
}

// InitConfig loads .env files and maps DMAP_* environment variables to flags
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Write renders v in the given format. Text output uses text, json and
// yaml encode v itself.
func Write(w io.Writer, format string, v any, text string) error {
	switch format {
	case FormatText, "":
		_, err := fmt.Fprintln(w, strings.TrimRight(text, "\n"))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format %q (text, json, yaml)", format)
	}
}
