// Package logging is a plain *log.Logger plus github.com/fatih/color for
// warning/error highlighting, with verbosity gating (-v/-q) and an
// optional systemd journal sink.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
)

// Level controls which calls actually reach the underlying writer.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger wraps a standard library *log.Logger with a verbosity gate and
// leveled filtering for the "-v"/"-q" flags.
type Logger struct {
	out   *log.Logger
	level Level
}

// New builds a Logger writing to w at the given verbosity. quiet, when
// true, pins the level to LevelError regardless of verbosity.
func New(w io.Writer, verbosity int, quiet bool) *Logger {
	level := LevelInfo
	switch {
	case quiet:
		level = LevelError
	case verbosity >= 1:
		level = LevelDebug
	}
	return &Logger{
		out:   log.New(w, "", log.LstdFlags),
		level: level,
	}
}

// Default returns a Logger writing to stderr at normal verbosity.
func Default() *Logger { return New(os.Stderr, 0, false) }

func (l *Logger) logf(level Level, prefix string, colorize func(format string, a ...interface{}) string, format string, args ...interface{}) {
	if level > l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Print(colorize("%s %s", prefix, msg))
}

// Errorf logs at error level, highlighted in red.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR", color.RedString, format, args...)
}

// Warnf logs at warn level, highlighted in yellow.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN", color.YellowString, format, args...)
}

// Infof logs at info level, uncolored.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO", fmt.Sprintf, format, args...)
}

// Debugf logs at debug level, uncolored, gated behind -v.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG", fmt.Sprintf, format, args...)
}
