package events

import "log/slog"

// LogEmitter forwards every event to a structured logger. It is the sink
// used by the daemon when no external indexer is attached.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(evt Event) {
	if l == nil || l.logger == nil || evt == nil {
		return
	}
	payload := evt.Event()
	attrs := make([]any, 0, len(payload.Attributes)*2)
	for key, value := range payload.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.With(attrs...).Info("event emitted", slog.String("type", payload.Type))
}
