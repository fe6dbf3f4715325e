// Package logging provides the default structured logger used by the cmd
// tools. Library code never logs through a global; it takes a *slog.Logger
// via configuration.
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tinted stderr logger at the given level.
func New(level slog.Level) *slog.Logger {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
	return slog.New(handler)
}

// Default returns an Info-level tinted logger.
func Default() *slog.Logger {
	return New(slog.LevelInfo)
}
