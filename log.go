package isearch

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the package logger. Info-level progress goes to stdout through a
// console writer; warnings and errors additionally land in log.txt so a long
// crawl can be audited after the fact. Workers never let an error escape
// their loop: they log it here and move on.
// Built as a variable initializer so it is ready before any init function
// in this package runs.
var Log = newLogger()

// errorFileName is where non-fatal worker errors are appended.
const errorFileName = "log.txt"

func newLogger() zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}

	sinks := []io.Writer{console}
	f, err := os.OpenFile(errorFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		sinks = append(sinks, &zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: f},
			Level:  zerolog.WarnLevel,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(sinks...)).With().Timestamp().Logger()
}
