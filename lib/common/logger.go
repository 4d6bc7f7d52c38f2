package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Package loggers
// --------------------------------------------------------------------------

// The coordinator, the engines and the CLI each hold a package logger
// (logger.GetLogger("coordinator"), ...). storekit routes all of them through
// pkgLogger so that every line reads
//
//	2026/01/02 15:04:05 WARN  | coordinator     | insert: failed to open app@1/notes: ...
//
// Lines go to stderr by default, stdout is reserved for command results (json).

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

// SetLogOutput redirects the log lines of all package loggers to w
func SetLogOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

type pkgLogger struct {
	name  string
	level logger.LogLevel
}

func (l *pkgLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *pkgLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, "DEBUG", format, args...)
}

func (l *pkgLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, "INFO", format, args...)
}

func (l *pkgLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, "WARN", format, args...)
}

func (l *pkgLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, "ERROR", format, args...)
}

// Panicf logs the message regardless of the level and panics with it
func (l *pkgLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.write("PANIC", msg)
	panic(msg)
}

func (l *pkgLogger) logf(level logger.LogLevel, tag, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.write(tag, fmt.Sprintf(format, args...))
}

func (l *pkgLogger) write(tag, msg string) {
	outputMu.RLock()
	defer outputMu.RUnlock()
	log.New(output, "", log.LstdFlags).Printf("%-5s | %-15s | %s", tag, l.name, msg)
}

// newPkgLogger is the dragonboat logger.Factory installed by InitLoggers
func newPkgLogger(pkgName string) logger.ILogger {
	return &pkgLogger{name: pkgName, level: logger.INFO}
}

// --------------------------------------------------------------------------
// Levels and initialization
// --------------------------------------------------------------------------

// ParseLogLevel maps the --log-level flag to a dragonboat level ("" is info)
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// loggerNames lists every package logger of storekit
var loggerNames = []string{"coordinator", "engine", "cli"}

// InitLoggers installs the storekit line format for all package loggers and sets their level.
// It is called once per CLI invocation, before the engine is opened.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(newPkgLogger)

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
