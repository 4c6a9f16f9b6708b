package logx

import "log/slog"

// EnsureLoggerInstance returns logger if it not nil.
// Otherwise a new logger that discards all output is returned.
func EnsureLoggerInstance(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return logger
}

// SloggerWithGroup returns logger (or a discarding fallback, via
// [EnsureLoggerInstance]) scoped under group so its records are
// namespaced by component.
func SloggerWithGroup(logger *slog.Logger, group string) *slog.Logger {
	return EnsureLoggerInstance(logger).WithGroup(group)
}
