package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingPublisher writes events to the log. It is the default when no
// broker is configured.
type LoggingPublisher struct {
	logger zerolog.Logger
}

func NewLoggingPublisher(logger zerolog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LoggingPublisher) Publish(_ context.Context, event Event) error {
	entry := p.logger.Info().
		Str("event_type", string(event.Type)).
		Str("device_id", event.DeviceID).
		Time("occurred_at", event.OccurredAt)
	for k, v := range event.Attributes {
		entry = entry.Str(k, v)
	}
	entry.Msg("event published")
	return nil
}
