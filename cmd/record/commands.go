package record

import (
	"context"
	"fmt"
	"io"

	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/ValentinKolb/storekit/lib/coordinator"
	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/spf13/cobra"
)

// resultView is the json output of one sub-request
type resultView struct {
	Key    string            `json:"key"`
	State  coordinator.State `json:"state"`
	Found  *bool             `json:"found,omitempty"`
	Record engine.Record     `json:"record,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// printResults prints the views and fails if any sub-request failed
func printResults(w io.Writer, views []resultView) error {
	if err := util.PrintJSON(w, views); err != nil {
		return err
	}
	failed := 0
	for _, v := range views {
		if v.State == coordinator.Failed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(views))
	}
	return nil
}

func getViews(results []coordinator.GetResult) []resultView {
	views := make([]resultView, len(results))
	for i, r := range results {
		found := r.Found
		views[i] = resultView{Key: r.Key, State: r.State, Found: &found, Record: r.Record, Error: util.ErrString(r.Err)}
	}
	return views
}

var (
	putCmd = &cobra.Command{
		Use:   "put [json...]",
		Short: "Inserts records into the store",
		Long: `Inserts the given records (json objects) into the store.
New records get createdAt and updatedAt set to the current time. Existing records are
skipped unless --overwrite is set, in which case updatedAt is advanced and createdAt kept.`,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			recs, err := readRecords(cmd.InOrStdin(), args, cmd.Flag("file").Value.String())
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("no records given")
			}
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			results, err := session.Coordinator.Insert(context.Background(), coordinator.InsertOptions{
				Target:    target(),
				Records:   recs,
				Overwrite: overwrite,
			})
			if err != nil {
				return err
			}

			views := make([]resultView, len(results))
			for i, r := range results {
				views[i] = resultView{Key: r.Key, State: r.State, Record: r.Record, Error: util.ErrString(r.Err)}
			}
			return printResults(cmd.OutOrStdout(), views)
		}),
	}
	getCmd = &cobra.Command{
		Use:   "get [keys...]",
		Short: "Reads records by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			results, err := session.Coordinator.Get(context.Background(), coordinator.GetOptions{
				Target: target(),
				Keys:   args,
			})
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), getViews(results))
		}),
	}
	allCmd = &cobra.Command{
		Use:   "all",
		Short: "Reads every record of the store",
		Args:  cobra.NoArgs,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			results, err := session.Coordinator.GetAll(context.Background(), coordinator.GetAllOptions{
				Target: target(),
			})
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), getViews(results))
		}),
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [keys...]",
		Short: "Deletes records by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			results, err := session.Coordinator.Delete(context.Background(), coordinator.DeleteOptions{
				Target: target(),
				Keys:   args,
			})
			if err != nil {
				return err
			}
			views := make([]resultView, len(results))
			for i, r := range results {
				views[i] = resultView{Key: r.Key, State: r.State, Error: util.ErrString(r.Err)}
			}
			return printResults(cmd.OutOrStdout(), views)
		}),
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Deletes every record of the store",
		Args:  cobra.NoArgs,
		RunE: util.WithSession(func(cmd *cobra.Command, args []string, session *util.Session) error {
			t := target()
			if err := session.Coordinator.Clear(context.Background(), coordinator.ClearOptions{Target: t}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", t)
			return nil
		}),
	}
)

func init() {
	putCmd.Flags().Bool("overwrite", false, util.WrapString("Replace records that already exist"))
	putCmd.Flags().StringP("file", "f", "", util.WrapString("File with a json object or array of objects to insert ('-' reads stdin)"))
}
