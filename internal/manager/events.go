package manager

import "github.com/rs/zerolog"

// Event represents a manager lifecycle event (ensure_start, ensure_ready,
// evicted, unload_done, switch_done, ...). Fields carry event details such
// as durations, errors and op ids.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct{ L zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	p.L.Debug().Str("event", e.Name).Str("model", e.ModelID).Fields(e.Fields).Msg("manager event")
}

// Publishers fans an event out to several publishers in order.
type Publishers []EventPublisher

func (ps Publishers) Publish(e Event) {
	for _, p := range ps {
		p.Publish(e)
	}
}
