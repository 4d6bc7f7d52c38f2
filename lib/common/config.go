package common

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// --------------------------------------------------------------------------
// storekit configuration struct
// --------------------------------------------------------------------------

// Config holds the configuration of the storekit CLI
type Config struct {
	// Backend selects the engine implementation (memory or sqlite)
	Backend engine.Implementation
	// DataPath is the directory holding the snapshot (memory) or database file (sqlite)
	DataPath string
	// Codec is the record codec of the engine (json or gob)
	Codec string

	// MaxConcurrency bounds the sub-requests in flight per operation (<= 0 = unbounded)
	MaxConcurrency int

	// Logging configuration
	LogLevel string

	// PrintMetrics prints all metrics to stderr before the program exits
	PrintMetrics bool
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Backend {
	case engine.ImplMemory, engine.ImplSQLite:
	default:
		return fmt.Errorf("invalid backend %q (expected %s or %s)", c.Backend, engine.ImplMemory, engine.ImplSQLite)
	}
	switch c.Codec {
	case "json", "gob":
	default:
		return fmt.Errorf("invalid codec %q (expected json or gob)", c.Codec)
	}
	if c.DataPath == "" {
		return fmt.Errorf("data path must not be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SnapshotFile returns the snapshot path used by the memory backend
func (c *Config) SnapshotFile() string {
	return filepath.Join(c.DataPath, "storekit.snap")
}

// DatabaseFile returns the database path used by the sqlite backend
func (c *Config) DatabaseFile() string {
	return filepath.Join(c.DataPath, "storekit.db")
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Engine")
	addField("Backend", string(c.Backend))
	addField("Codec", c.Codec)
	switch c.Backend {
	case engine.ImplMemory:
		addField("Snapshot File", c.SnapshotFile())
	case engine.ImplSQLite:
		addField("Database File", c.DatabaseFile())
	}

	addSection("Coordinator")
	concurrency := "unbounded"
	if c.MaxConcurrency > 0 {
		concurrency = strconv.Itoa(c.MaxConcurrency)
	}
	addField("Max Concurrency", concurrency)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Print Metrics", strconv.FormatBool(c.PrintMetrics))

	return sb.String()
}
