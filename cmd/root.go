package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMap/cmd/kv"
	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmap",
		Short: "fragment-sharded key-value map",
		Long: fmt.Sprintf(`dMap (v%s)

A key-value map that splits every value into fragments, spreads them
round-robin over a fixed set of shard tables and keeps a manifest of where
each fragment lives. Every mutation is one transaction over the manifest
and all shards.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMap",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMap v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("Level at which logs are written to stderr (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
