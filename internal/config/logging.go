package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Mode selects the log format and destination for a process
type Mode int

const (
	// ModeHTTP writes JSON logs to stdout
	ModeHTTP Mode = iota
	// ModeStdio writes text logs to stderr; stdout carries the MCP stream
	ModeStdio
	// ModeCLI writes text logs to stderr; stdout carries command output
	ModeCLI
)

func (m Mode) String() string {
	switch m {
	case ModeStdio:
		return "stdio"
	case ModeCLI:
		return "cli"
	default:
		return "http"
	}
}

// parseLogLevel converts a LOG_LEVEL value (debug, info, warn, error) to a
// slog.Level. Anything else means info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogLevel returns the level from the LOG_LEVEL environment variable
func GetLogLevel() slog.Level {
	return parseLogLevel(os.Getenv("LOG_LEVEL"))
}

// NewLogger creates the process logger for a run mode at LOG_LEVEL
func NewLogger(mode Mode) *slog.Logger {
	return newLogger(mode, os.Stdout, os.Stderr, GetLogLevel())
}

func newLogger(mode Mode, stdout, stderr io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if mode == ModeHTTP {
		return slog.New(slog.NewJSONHandler(stdout, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}

// NewTextLogger creates a text logger at LOG_LEVEL. The CLI subcommands
// pass the command's stderr so output stays capturable.
func NewTextLogger(output io.Writer) *slog.Logger {
	return newLogger(ModeCLI, io.Discard, output, GetLogLevel())
}

// NewTestLogger creates a logger for tests. An empty level falls back to LOG_LEVEL.
func NewTestLogger(output io.Writer, level string) *slog.Logger {
	logLevel := GetLogLevel()
	if level != "" {
		logLevel = parseLogLevel(level)
	}
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
}
