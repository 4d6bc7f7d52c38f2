package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/storekit/cmd/util"
	"github.com/ValentinKolb/storekit/lib/common"
	"github.com/ValentinKolb/storekit/lib/coordinator"
	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const perfDB = "__perf"

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for the configured engine",
		Long: `Runs insert, get, getall and delete benchmarks against a temporary database (` + perfDB + `).
The database is dropped when the benchmarks finished.`,
		Args: cobra.NoArgs,
		RunE: util.WithSession(runPerf),
	}
	perfTarget = coordinator.Target{DBName: perfDB, Version: 1, StoreName: "records"}
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch"
	perfTestCmd.Flags().Int(key, 16, util.WrapString("Number of records per batch in the insert-batch test"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

type perfConfig struct {
	skip    []string
	threads int
	keys    int
	batch   int
}

func runPerf(_ *cobra.Command, _ []string, session *util.Session) error {
	conf := perfConfig{
		skip:    strings.Split(viper.GetString("skip"), ","),
		threads: max(viper.GetInt("threads"), 1),
		keys:    max(viper.GetInt("keys"), 1),
		batch:   max(viper.GetInt("batch"), 1),
	}
	ctx := context.Background()
	c := session.Coordinator

	fmt.Println("Performance testing tool for storekit")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(session.Config.String())
	fmt.Printf("Threads: %d\n", conf.threads)
	fmt.Println()

	setup := c.Setup(ctx, []coordinator.Schema{{
		DBName:  perfTarget.DBName,
		Version: perfTarget.Version,
		Stores:  []coordinator.StoreDecl{{Name: perfTarget.StoreName, KeyPath: "key"}},
	}})
	if setup.Err != nil {
		return setup.Err
	}
	if err := setup.Schemas[0].Err; err != nil {
		return err
	}
	defer func() {
		if err := session.Engine.DeleteDatabase(ctx, perfDB); err != nil {
			util.Logger.Warningf("perf: failed to drop %s: %v", perfDB, err)
		}
	}()

	keys := make([]string, conf.keys)
	for i := range keys {
		keys[i] = fmt.Sprintf("__test-%d", i)
	}
	key := func(i int) string { return keys[i%len(keys)] }
	record := func(k string) engine.Record { return engine.Record{"key": k, "value": "test"} }

	fmt.Println("starting tests...")

	names := []string{"insert", "insert-batch", "get", "getall", "delete"}
	benchmarks := map[string]func(b *testing.B){
		"insert": func(b *testing.B) {
			b.SetParallelism(conf.threads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					_, err := c.Insert(ctx, coordinator.InsertOptions{Target: perfTarget, Records: []engine.Record{record(key(i))}, Overwrite: true})
					if err != nil {
						util.Logger.Warningf("(insert) - %v", err)
					}
					i++
				}
			})
		},
		"insert-batch": func(b *testing.B) {
			batch := make([]engine.Record, conf.batch)
			for i := range batch {
				batch[i] = record(key(i))
			}
			b.SetParallelism(conf.threads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					_, err := c.Insert(ctx, coordinator.InsertOptions{Target: perfTarget, Records: batch, Overwrite: true})
					if err != nil {
						util.Logger.Warningf("(insert-batch) - %v", err)
					}
				}
			})
		},
		"get": func(b *testing.B) {
			b.SetParallelism(conf.threads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					_, err := c.Get(ctx, coordinator.GetOptions{Target: perfTarget, Keys: []string{key(i)}})
					if err != nil {
						util.Logger.Warningf("(get) - %v", err)
					}
					i++
				}
			})
		},
		"getall": func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := c.GetAll(ctx, coordinator.GetAllOptions{Target: perfTarget}); err != nil {
					util.Logger.Warningf("(getall) - %v", err)
				}
			}
		},
		"delete": func(b *testing.B) {
			b.SetParallelism(conf.threads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					_, err := c.Delete(ctx, coordinator.DeleteOptions{Target: perfTarget, Keys: []string{key(i)}})
					if err != nil {
						util.Logger.Warningf("(delete) - %v", err)
					}
					i++
				}
			})
		},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, name := range names {
		if slices.Contains(conf.skip, name) {
			printResult(name, testing.BenchmarkResult{})
			continue
		}
		results[name] = testing.Benchmark(benchmarks[name])
		printResult(name, results[name])
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, names, results, conf, session.Config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %w", err)
		}
	}
	return nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

func writeResultsToCSV(csvPath string, names []string, results map[string]testing.BenchmarkResult, conf perfConfig, config *common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"test", "backend", "codec", "threads", "keys", "ns_per_op", "ops_per_sec", "allocs_per_op", "bytes_per_op"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, name := range names {
		result, ok := results[name]
		if !ok || result.NsPerOp() == 0 {
			continue
		}
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)
		row := []string{
			name,
			string(config.Backend),
			config.Codec,
			strconv.Itoa(conf.threads),
			strconv.Itoa(conf.keys),
			strconv.FormatInt(result.NsPerOp(), 10),
			strconv.FormatFloat(1e9/nsPerOp, 'f', 0, 64),
			strconv.FormatInt(result.AllocsPerOp(), 10),
			strconv.FormatInt(result.AllocedBytesPerOp(), 10),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
