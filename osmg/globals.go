package internal

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	DefaultAppName   = "osmg"
	DefaultEnvPrefix = "OSMG"

	// DefaultMemoryMB is the sort budget used when none is configured.
	DefaultMemoryMB int64 = 1024

	DefaultNodesFile = "nodes.txt"
	DefaultEdgesFile = "edges.txt"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// DefaultWorkspacePrefix names the per-run temporary directory.
	DefaultWorkspacePrefix = "osm_reader_temporary"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// NewLogger builds a timestamped logger writing to w. format is "console" or
// "json"; unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
