package schema

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/spf13/cobra"
)

type storeView struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Existed bool   `json:"existed"`
	Error   string `json:"error,omitempty"`
}

type schemaView struct {
	DB       string      `json:"db"`
	Version  uint64      `json:"version"`
	Success  bool        `json:"success"`
	Upgraded bool        `json:"upgraded"`
	Error    string      `json:"error,omitempty"`
	Stores   []storeView `json:"stores"`
}

var (
	defineCmd = &cobra.Command{
		Use:   "define",
		Short: "Creates the declared databases and stores that do not exist yet",
		Long: `Reads the declared databases from a YAML file and makes sure every declared store exists.
New stores are only created if the declared version is higher than the stored one.`,
		Args: cobra.NoArgs,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			data, err := readInput(cmd, cmd.Flag("file").Value.String())
			if err != nil {
				return err
			}
			schemas, err := ParseSchemaFile(data)
			if err != nil {
				return err
			}

			res := session.Coordinator.Setup(context.Background(), schemas)
			if res.Err != nil {
				return res.Err
			}

			views := make([]schemaView, len(res.Schemas))
			failed := 0
			for i, r := range res.Schemas {
				views[i] = schemaView{
					DB:       r.DBName,
					Version:  r.Version,
					Success:  r.Success,
					Upgraded: r.Upgraded,
					Error:    util.ErrString(r.Err),
					Stores:   make([]storeView, len(r.Stores)),
				}
				for j, st := range r.Stores {
					views[i].Stores[j] = storeView{Name: st.Name, Created: st.Created, Existed: st.Existed, Error: util.ErrString(st.Err)}
				}
				if !r.Success {
					failed++
				}
			}
			if err := util.PrintJSON(cmd.OutOrStdout(), views); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d databases failed", failed, len(views))
			}
			return nil
		}),
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all databases with their version and stores",
		Args:  cobra.NoArgs,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			dbs, err := session.Engine.Databases(context.Background())
			if err != nil {
				return err
			}
			return util.PrintJSON(cmd.OutOrStdout(), dbs)
		}),
	}
	dropCmd = &cobra.Command{
		Use:   "drop [db...]",
		Short: "Deletes databases with all their stores and records",
		Args:  cobra.MinimumNArgs(1),
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			for _, name := range args {
				if err := session.Engine.DeleteDatabase(context.Background(), name); err != nil {
					return fmt.Errorf("drop %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", name)
			}
			return nil
		}),
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints statistics about the engine",
		Args:  cobra.NoArgs,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			info := session.Engine.GetInfo()
			features := make([]string, len(info.SupportedFeatures))
			for i, f := range info.SupportedFeatures {
				features[i] = f.String()
			}
			return util.PrintJSON(cmd.OutOrStdout(), struct {
				Engine    string   `json:"engine"`
				SizeBytes int      `json:"size_bytes"`
				Databases int      `json:"databases"`
				Stores    int      `json:"stores"`
				Records   int      `json:"records"`
				Features  []string `json:"features"`
				Metadata  any      `json:"metadata"`
			}{
				Engine:    string(info.EngineType),
				SizeBytes: info.SizeBytes,
				Databases: info.Databases,
				Stores:    info.Stores,
				Records:   info.Records,
				Features:  features,
				Metadata:  info.Metadata,
			})
		}),
	}
)

// readInput reads a file, or the command input for "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
