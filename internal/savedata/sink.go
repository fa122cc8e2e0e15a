// ABOUTME: EventSink receives committed domain events from the Service
// ABOUTME: LogSink writes them to slog; MultiSink fans out to several sinks

package savedata

import (
	"context"
	"log/slog"

	"github.com/2389/metasave/internal/store"
)

// EventSink is handed each event after the transaction that produced it
// has committed. Publish must not block for long.
type EventSink interface {
	Publish(ctx context.Context, e *store.Event)
}

// LogSink logs events at info level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. Pass nil logger for default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Publish implements EventSink.
func (l *LogSink) Publish(ctx context.Context, e *store.Event) {
	l.logger.InfoContext(ctx, "event",
		"type", e.Type,
		"game", e.Game,
		"route", e.Route,
		"actor", e.Actor,
		"key", string(e.Entry.Key),
		"seq", e.Sequence,
	)
}

// MultiSink publishes to every sink in order.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, e *store.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, e)
		}
	}
}
