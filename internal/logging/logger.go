// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// InitLogger initializes the default slog logger.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(requestIDHandler{inner: handler}))
}

// WithWallet returns a logger carrying the wallet field.
func WithWallet(address string) *slog.Logger {
	return slog.Default().With("wallet", address)
}

// WithConn returns a logger carrying the connection id field.
func WithConn(connID string) *slog.Logger {
	return slog.Default().With("conn_id", connID)
}
