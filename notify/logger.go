package notify

import (
	"context"
	"log/slog"
)

// Logger writes delivery requests to the structured log instead of
// sending them anywhere. Development fallback only: it exposes code
// bodies in the log stream.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a log-only notifier.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Send(_ context.Context, destination, subject, body string) error {
	l.logger.Info("out-of-band delivery (log only)",
		slog.String("destination", destination),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}
