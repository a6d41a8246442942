// Package logging installs the log format used by all dMap components.
//
// Components obtain their logger with logger.GetLogger(name) from
// github.com/lni/dragonboat/v4/logger. InitLoggers replaces the default
// dragonboat factory with one that writes "LEVEL | component | message" lines.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// Components lists the logger names used in this module
var Components = []string{"dmap", "table", "maple", "sqlite", "cli"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dMapLogger implements the ILogger interface with custom formatting
type dMapLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *dMapLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *dMapLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *dMapLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *dMapLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *dMapLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *dMapLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *dMapLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *dMapLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-8s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// NewFactory returns a dragonboat logger factory writing to w.
// New loggers start at WARNING so library users are not flooded by default.
func NewFactory(w io.Writer) logger.Factory {
	return func(pkgName string) logger.ILogger {
		l := &dMapLogger{
			name:   pkgName,
			logger: log.New(w, "", log.Ldate|log.Ltime),
		}
		l.level.Store(int32(logger.WARNING))
		return l
	}
}

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "", "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// InitLoggers installs the custom format (on stderr, stdout is reserved for
// command output) and sets the level of every component logger
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(NewFactory(os.Stderr))
	for _, name := range Components {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
