package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/storekit/lib/common"
	"github.com/ValentinKolb/storekit/lib/coordinator"
	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/ValentinKolb/storekit/lib/engine/codec"
	"github.com/ValentinKolb/storekit/lib/engine/engines/memory"
	"github.com/ValentinKolb/storekit/lib/engine/engines/sqlite"
	"github.com/ValentinKolb/storekit/lib/engine/snapshot"
	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

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

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupEngineFlags adds the engine and logging flags to a command
func SetupEngineFlags(cmd *cobra.Command) {
	key := "backend"
	cmd.PersistentFlags().String(key, string(engine.ImplMemory), WrapString("Storage engine to use (memory, sqlite). The memory engine is persisted as a snapshot file in the data directory"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory holding the snapshot (memory) or the database file (sqlite)"))

	key = "codec"
	cmd.PersistentFlags().String(key, "json", WrapString("Codec used to store records (json, gob)"))

	key = "max-concurrency"
	cmd.PersistentFlags().Int(key, 0, WrapString("Maximum number of sub-requests in flight per operation (0 = unbounded)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "metrics"
	cmd.PersistentFlags().Bool(key, false, WrapString("Print all metrics in Prometheus format to stderr when the command finished"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("storekit")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the configuration from viper
func GetConfig() *common.Config {
	return &common.Config{
		Backend:        engine.Implementation(viper.GetString("backend")),
		DataPath:       viper.GetString("data-dir"),
		Codec:          viper.GetString("codec"),
		MaxConcurrency: viper.GetInt("max-concurrency"),
		LogLevel:       viper.GetString("log-level"),
		PrintMetrics:   viper.GetBool("metrics"),
	}
}

// BindCommandFlags binds a command's flags (including inherited ones) to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Session (engine + coordinator of one command)
// --------------------------------------------------------------------------

// Session holds the engine and coordinator of one command invocation
type Session struct {
	Config      *common.Config
	Engine      engine.Engine
	Coordinator *coordinator.Coordinator
}

// OpenSession reads the configuration, initializes logging and opens the configured engine.
// The memory engine is restored from its snapshot file.
func OpenSession(cmd *cobra.Command) (*Session, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}

	conf := GetConfig()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return nil, err
	}
	Logger.Debugf("configuration:%s", conf)

	eng, err := openEngine(conf)
	if err != nil {
		return nil, err
	}

	return &Session{
		Config:      conf,
		Engine:      eng,
		Coordinator: coordinator.New(eng, &coordinator.Options{MaxConcurrency: conf.MaxConcurrency}),
	}, nil
}

func openEngine(conf *common.Config) (engine.Engine, error) {
	c, err := codec.ByName(conf.Codec)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(conf.DataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	switch conf.Backend {
	case engine.ImplMemory:
		eng := memory.NewMemoryEngine(&memory.Options{Codec: c})
		loaded, err := snapshot.ReadFile(eng.(engine.Snapshotter), conf.SnapshotFile())
		if err != nil {
			return nil, err
		}
		if loaded {
			Logger.Debugf("restored snapshot %s", conf.SnapshotFile())
		}
		return eng, nil
	case engine.ImplSQLite:
		return sqlite.NewSQLiteEngine(sqlite.Options{Path: conf.DatabaseFile(), Codec: c})
	default:
		return nil, fmt.Errorf("invalid backend %s", conf.Backend)
	}
}

// SessionFunc is the body of a command that works on an open session
type SessionFunc func(cmd *cobra.Command, args []string, s *Session) error

// WithSession turns fn into a cobra RunE. The session is closed (and the memory engine
// persisted) after fn returned, also if fn failed: a batch where some keys failed still
// keeps the writes of the keys that succeeded.
func WithSession(fn SessionFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := OpenSession(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.Close())
		}()
		return fn(cmd, args, s)
	}
}

// Close persists the engine state (memory backend), closes the engine and prints
// the metrics if requested
func (s *Session) Close() error {
	if snap, ok := s.Engine.(engine.Snapshotter); ok && !s.Engine.SupportsFeature(engine.FeatureDurable) {
		if err := snapshot.WriteFile(snap, s.Config.SnapshotFile()); err != nil {
			return err
		}
		Logger.Debugf("saved snapshot %s", s.Config.SnapshotFile())
	}
	if err := s.Engine.Close(); err != nil {
		return err
	}
	if s.Config.PrintMetrics {
		metrics.WritePrometheus(os.Stderr, false)
	}
	return nil
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// PrintJSON writes v as indented json to w (the command output)
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ErrString returns the message of err or "" for nil
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
