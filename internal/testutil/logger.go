package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output. Same as
// log.NewNop(); kept here so test files outside internal/log read cleanly.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
