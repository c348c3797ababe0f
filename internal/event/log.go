package event

import "github.com/rs/zerolog"

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a publisher over the given logger.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ev Event) {
	entry := p.log.Info().
		Str("event", ev.Type).
		Str("pipeline", ev.Pipeline).
		Int("run", ev.Run)
	if ev.Stage != "" {
		entry = entry.Str("stage", ev.Stage)
	}
	if ev.Detail != "" {
		entry = entry.Str("detail", ev.Detail)
	}
	entry.Send()
}

func (p *LogPublisher) Close() {}
