package schema

import (
	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/spf13/cobra"
)

// SchemaCommands represents the schema command group
var SchemaCommands = &cobra.Command{
	Use:   "schema",
	Short: "Define, list and drop databases",
}

func init() {
	SchemaCommands.AddCommand(defineCmd)
	SchemaCommands.AddCommand(listCmd)
	SchemaCommands.AddCommand(dropCmd)
	SchemaCommands.AddCommand(infoCmd)

	defineCmd.Flags().StringP("file", "f", "schema.yaml", util.WrapString("YAML file with the declared databases ('-' reads stdin)"))
}
