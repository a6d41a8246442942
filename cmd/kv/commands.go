package kv

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/lib/dmap"
	"github.com/spf13/cobra"
)

type keyResult struct {
	Key   string `json:"key" yaml:"key"`
	Found bool   `json:"found" yaml:"found"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key (value '-' reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], []byte(args[1])
			if args[1] == "-" {
				var err error
				if value, err = io.ReadAll(os.Stdin); err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			if _, err := byteMap.Set(cmd.Context(), key, value); err != nil {
				return err
			}
			return write(cmd, keyResult{Key: key, Found: true}, "set successfully")
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, ok, err := byteMap.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			text := string(value)
			if !ok {
				text = fmt.Sprintf("key=%s, found=false", key)
			}
			return write(cmd, keyResult{Key: key, Found: ok, Value: string(value)}, text)
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key and all of its fragments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			removed, err := byteMap.Delete(cmd.Context(), key)
			if err != nil {
				return err
			}
			return write(cmd, keyResult{Key: key, Found: removed}, fmt.Sprintf("key=%s, removed=%t", key, removed))
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := byteMap.Has(cmd.Context(), key)
			if err != nil {
				return err
			}
			return write(cmd, keyResult{Key: key, Found: found}, fmt.Sprintf("key=%s, found=%t", key, found))
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes every key of the map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := byteMap.Clear(cmd.Context()); err != nil {
				return err
			}
			return write(cmd, map[string]bool{"cleared": true}, "cleared successfully")
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := byteMap.Size(cmd.Context())
			if err != nil {
				return err
			}
			return write(cmd, map[string]int{"size": n}, fmt.Sprint(n))
		},
	}
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Checks every key for missing or corrupt fragments and lists orphaned fragments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := byteMap.Verify(cmd.Context())
			if err != nil {
				return err
			}
			if err := write(cmd, report, reportText(report)); err != nil {
				return err
			}
			if !report.Healthy() {
				cmd.SilenceUsage = true
				return fmt.Errorf("map %s is damaged", byteMap.Name())
			}
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints how keys and fragments are spread over the shards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := byteMap.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return write(cmd, stats, statsText(stats))
		},
	}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func write(cmd *cobra.Command, v any, text string) error {
	return util.Write(cmd.OutOrStdout(), mapConfig.Format, v, text)
}

func reportText(r dmap.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "keys=%d, fragments=%d, issues=%d, orphans=%d\n", r.Keys, r.Fragments, len(r.Issues), len(r.Orphans))
	for _, issue := range r.Issues {
		fmt.Fprintf(&sb, "  %-16s key=%s shard=%d fragment=%s\n", issue.Kind, issue.Key, issue.Address.Shard, issue.Address.FragmentID)
	}
	for _, orphan := range r.Orphans {
		fmt.Fprintf(&sb, "  %-16s shard=%d fragment=%s\n", "Orphan", orphan.Shard, orphan.FragmentID)
	}
	return sb.String()
}

func statsText(s dmap.Stats) string {
	var sb strings.Builder
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	sb.WriteString(fmt.Sprintf("MAP %s\n", strings.ToUpper(s.Name)))
	addField("Keys", fmt.Sprint(s.Keys))
	addField("Allocation Cursor", fmt.Sprint(s.Cursor))

	sb.WriteString("\nSHARDS\n")
	for i := 0; i < len(s.Shards); i++ {
		name := dmap.ShardName(i)
		addField(name, fmt.Sprint(s.Shards[name]))
	}
	addField("Distribution Quality", fmt.Sprintf("%.3f", s.Distribution.Quality))
	addField("Std Deviation", fmt.Sprintf("%.2f", s.Distribution.StdDeviation))

	sb.WriteString("\nFRAGMENT SIZES\n")
	addField("Count", fmt.Sprint(s.FragmentSizes.Count))
	addField("Total", fmt.Sprintf("%d bytes", s.FragmentSizes.Total))
	addField("Average", fmt.Sprintf("%d bytes", s.FragmentSizes.Average))
	addField("P50 / P90 / P99", fmt.Sprintf("%d / %d / %d bytes", s.FragmentSizes.P50, s.FragmentSizes.P90, s.FragmentSizes.P99))
	return sb.String()
}
