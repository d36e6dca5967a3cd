// Package logging sets up the process logger. Per-pipeline debug output is not logged here; see
// framework.CapturingLogger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

var (
	gray  = color.New(color.FgWhite).SprintFunc()
	blue  = color.New(color.FgBlue).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
)

// Options controls New.
type Options struct {
	Level   zerolog.Level
	NoColor bool
	// JSON switches from human-readable console output to one JSON object per line.
	JSON bool
}

// New returns a logger that writes to w.
func New(w io.Writer, opts Options) zerolog.Logger {
	if opts.JSON {
		return zerolog.New(w).Level(opts.Level).With().Timestamp().Logger()
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		NoColor:    opts.NoColor,
	}
	if !opts.NoColor {
		output.FormatLevel = func(i interface{}) string {
			level, _ := i.(string)
			return colorizeLevel(level)
		}
		output.FormatFieldName = func(i interface{}) string {
			return gray(fmt.Sprint(i) + ":")
		}
		output.FormatFieldValue = func(i interface{}) string {
			return blue(fmt.Sprint(i))
		}
	}
	return zerolog.New(output).Level(opts.Level).With().Timestamp().Logger()
}

// ParseLevel accepts the usual zerolog level names; the empty string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func colorizeLevel(level string) string {
	switch level {
	case "trace", "debug":
		return gray("DBG")
	case "info":
		return green("INF")
	case "warn":
		return cyan("WRN")
	case "error", "fatal", "panic":
		return red("ERR")
	default:
		return blue(level)
	}
}

type printfLogger struct {
	log   zerolog.Logger
	level zerolog.Level
}

func (p printfLogger) Printf(message string, args ...interface{}) {
	p.log.WithLevel(p.level).Msgf(message, args...)
}

// Printf adapts a zerolog.Logger to the Printf-style logger interface used for debug output,
// logging every message at debug level.
func Printf(log zerolog.Logger) interface {
	Printf(message string, args ...interface{})
} {
	return printfLogger{log: log, level: zerolog.DebugLevel}
}
