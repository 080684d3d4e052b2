package studio

import (
	"log/slog"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/protocol"
)

// EventSink receives studio events. Emit must not block.
type EventSink interface {
	Emit(ev protocol.StudioEvent)
}

type discardSink struct{}

func (discardSink) Emit(protocol.StudioEvent) {}

// Discard drops every event.
var Discard EventSink = discardSink{}

// BusSink publishes events on studio.event.<session>.<type>.
type BusSink struct {
	bus *bus.Client
	log *slog.Logger
}

func NewBusSink(b *bus.Client, log *slog.Logger) *BusSink {
	return &BusSink{bus: b, log: log.With(slog.String("component", "studio-events"))}
}

func (s *BusSink) Emit(ev protocol.StudioEvent) {
	if err := s.bus.Publish(protocol.EventSubject(ev.SessionID, ev.Type), ev); err != nil {
		s.log.Warn("failed to publish studio event", slog.String("type", ev.Type), slog.String("error", err.Error()))
	}
}

func newEvent(sessionID, eventType string, kv ...string) protocol.StudioEvent {
	ev := protocol.StudioEvent{SessionID: sessionID, Type: eventType, Timestamp: time.Now().UTC()}
	if len(kv) > 0 {
		ev.Detail = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			ev.Detail[kv[i]] = kv[i+1]
		}
	}
	return ev
}
