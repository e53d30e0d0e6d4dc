// Package logging builds the leveled logger shared by every Ena component.
// Construction happens once in cmd/ena; every component receives its logger
// explicitly (never through a package-level global), per the "global state"
// guidance in spec.md §9.
package logging

import (
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New builds a logger that writes logfmt lines to stderr, filtered to
// levelName ("debug", "info", "warn", "error"; defaults to "info" for an
// unrecognized or empty value).
func New(levelName string) log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return level.NewFilter(base, filterOption(levelName))
}

// FromEnv reads the level from the environment variable ENA_LOG_LEVEL, the
// single variable spec.md §6 says controls log level/filter.
func FromEnv() log.Logger {
	return New(os.Getenv("ENA_LOG_LEVEL"))
}

func filterOption(levelName string) level.Option {
	switch strings.ToLower(strings.TrimSpace(levelName)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// WithBoard returns a logger pre-bound with the "board" key, the convention
// every per-board component follows.
func WithBoard(logger log.Logger, board string) log.Logger {
	return log.With(logger, "board", board)
}

// WithComponent returns a logger pre-bound with the "component" key.
func WithComponent(logger log.Logger, component string) log.Logger {
	return log.With(logger, "component", component)
}
