package common

import (
	"bytes"
	"os"
	"testing"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Backend:  engine.ImplMemory,
		DataPath: "./data",
		Codec:    "json",
		LogLevel: "info",
	}
}

func TestConfigValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	c.Backend = "postgres"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.Codec = "xml"
	assert.Error(t, c.Validate())

	c = validConfig()
	c.DataPath = ""
	assert.Error(t, c.Validate())

	c = validConfig()
	c.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestConfigString(t *testing.T) {
	c := validConfig()
	c.MaxConcurrency = 8
	s := c.String()
	assert.Contains(t, s, "ENGINE")
	assert.Contains(t, s, "storekit.snap")
	assert.Contains(t, s, "8")

	c.Backend = engine.ImplSQLite
	c.MaxConcurrency = 0
	s = c.String()
	assert.Contains(t, s, "storekit.db")
	assert.Contains(t, s, "unbounded")
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
		"":      logger.INFO,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}

func TestInitLoggers(t *testing.T) {
	require.NoError(t, InitLoggers("error"))
	assert.Error(t, InitLoggers("nope"))
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	t.Cleanup(func() { SetLogOutput(os.Stderr) })

	require.NoError(t, InitLoggers("warn"))
	l := logger.GetLogger("engine")

	l.Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warningf("store %s is gone", "notes")
	assert.Contains(t, buf.String(), "WARN  | engine          | store notes is gone")

	buf.Reset()
	assert.PanicsWithValue(t, "fatal 2", func() { l.Panicf("fatal %d", 2) })
	assert.Contains(t, buf.String(), "PANIC | engine")
}
