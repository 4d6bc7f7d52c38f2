package record

import (
	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/ValentinKolb/storekit/lib/coordinator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RecordCommands represents the record command group
var RecordCommands = &cobra.Command{
	Use:   "record",
	Short: "Insert, read and delete records of a store",
}

func init() {
	RecordCommands.PersistentFlags().String("db", "app", util.WrapString("Name of the database"))
	RecordCommands.PersistentFlags().Uint64("db-version", 1, util.WrapString("Version of the database. Must match a version created by 'schema define'"))
	RecordCommands.PersistentFlags().String("store", "", util.WrapString("Name of the store"))

	RecordCommands.AddCommand(putCmd)
	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(allCmd)
	RecordCommands.AddCommand(deleteCmd)
	RecordCommands.AddCommand(clearCmd)
	RecordCommands.AddCommand(perfTestCmd)
}

// target returns the store addressed by the --db, --db-version and --store flags
func target() coordinator.Target {
	return coordinator.Target{
		DBName:    viper.GetString("db"),
		Version:   viper.GetUint64("db-version"),
		StoreName: viper.GetString("store"),
	}
}
