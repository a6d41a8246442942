package kv

import (
	"github.com/ValentinKolb/dMap/cmd/util"
	"github.com/ValentinKolb/dMap/lib/dmap"
	"github.com/ValentinKolb/dMap/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

var (
	mapConfig *util.MapConfig
	byteMap   *dmap.DMap[string, []byte]

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform operations on a map",
		Long:               `Perform operations on a map. Every flag can also be set as environment variable DMAP_<FLAG> (e.g. DMAP_DATA_DIR=/var/lib/dmap).`,
		PersistentPreRunE:  openMap,
		PersistentPostRunE: closeMap,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupMapFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(clearCmd)
	KeyValueCommands.AddCommand(sizeCmd)
	KeyValueCommands.AddCommand(verifyCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(perfTestCmd)

	// cobra skips the post run on errors
	for _, c := range KeyValueCommands.Commands() {
		if c.RunE != nil {
			c.RunE = closeOnError(c.RunE)
		}
	}
}

// closeOnError closes the map when run fails
func closeOnError(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil {
			return nil
		}
		if cerr := closeMap(cmd, args); cerr != nil {
			Logger.Warningf("failed to close map after error: %v", cerr)
		}
		return err
	}
}

// openMap reads the configuration, sets up logging and opens the map
func openMap(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	mapConfig = util.GetMapConfig()
	Logger.Debugf("configuration:%s", mapConfig)

	// perf opens its own maps
	if cmd == perfTestCmd {
		return nil
	}

	var err error
	byteMap, err = util.OpenMap[[]byte](mapConfig)
	return err
}

// closeMap closes the map, the memory engine writes its snapshot here
func closeMap(_ *cobra.Command, _ []string) error {
	if byteMap == nil {
		return nil
	}
	err := byteMap.Close()
	byteMap = nil
	return err
}
