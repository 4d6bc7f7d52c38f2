package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/storekit/cmd/record"
	"github.com/ValentinKolb/storekit/cmd/schema"
	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "storekit",
		Short: "embedded object store toolkit",
		Long: fmt.Sprintf(`storekit (v%s)

Declare databases and their stores, then insert, read, delete and clear
records in batches. Records live in an embedded engine (in-memory with
snapshot files, or sqlite).

Every flag can also be set via environment variables STOREKIT_<FLAG>
(e.g. STOREKIT_BACKEND=sqlite) or a .env file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of storekit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storekit v%s\n", Version)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(schema.SchemaCommands)
	RootCmd.AddCommand(record.RecordCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupEngineFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
