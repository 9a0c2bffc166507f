// Package logger builds the process-wide hclog logger and exposes
// package-level helpers for code that has no logger injected.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction
type Options struct {
	Name         string
	Level        string
	Format       string // "text" or "json"
	FilePath     string // optional rotating file sink
	MaxSizeMB    int
	MaxBackups   int
	MaxAgeDays   int
	EnableColors bool
	Output       io.Writer // defaults to stderr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger. The returned closer releases the file sink.
func New(opts Options) (hclog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.FilePath != "" {
		file := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, file)
		closer = file
	}

	jsonFormat := strings.EqualFold(opts.Format, "json")

	color := hclog.ColorOff
	if opts.EnableColors && !jsonFormat && opts.FilePath == "" && isTerminal(out) {
		color = hclog.ForceColor
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     out,
		JSONFormat: jsonFormat,
		Color:      color,
	})
	return l, closer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetDefault installs l as the logger behind the package helpers
func SetDefault(l hclog.Logger) {
	hclog.SetDefault(l)
}

// Default returns the process-wide logger
func Default() hclog.Logger {
	return hclog.Default()
}

// Info logs informational messages with key/value pairs
func Info(msg string, args ...interface{}) {
	hclog.Default().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	hclog.Default().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	hclog.Default().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	hclog.Default().Debug(msg, args...)
}
