package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Recorder persists studio events published on the bus.
type Recorder struct {
	store *Store
	log   *slog.Logger
	sub   *nats.Subscription
	done  chan struct{}

	mu     sync.Mutex
	queue  chan protocol.StudioEvent
	closed bool
}

const recorderQueue = 1024

// NewRecorder subscribes to every studio event on conn.
func NewRecorder(conn *nats.Conn, store *Store, log *slog.Logger) (*Recorder, error) {
	r := &Recorder{
		store: store,
		log:   log.With(slog.String("component", "event-recorder")),
		queue: make(chan protocol.StudioEvent, recorderQueue),
		done:  make(chan struct{}),
	}
	sub, err := conn.Subscribe(protocol.SubjectEventWildcard, r.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe studio events: %w", err)
	}
	r.sub = sub
	go r.run()
	return r, nil
}

func (r *Recorder) handle(msg *nats.Msg) {
	var ev protocol.StudioEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warn("invalid studio event", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.log.Warn("event recorder queue full, dropping event", slog.String("session_id", ev.SessionID), slog.String("type", ev.Type))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.Record(context.Background(), ev)
	}
}

// Record stores a single event.
func (r *Recorder) Record(ctx context.Context, ev protocol.StudioEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := r.store.AppendEvent(ctx, Event{
		SessionID: ev.SessionID,
		Type:      ev.Type,
		Detail:    ev.Detail,
		CreatedAt: ev.Timestamp,
	})
	if err != nil {
		r.log.Warn("failed to record event", slog.String("session_id", ev.SessionID), slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}
	if ev.Type == protocol.EventSessionClosed {
		if err := r.store.MarkClosed(ctx, ev.SessionID); err != nil {
			r.log.Warn("failed to mark session closed", slog.String("session_id", ev.SessionID), slog.String("error", err.Error()))
		}
	}
}

// Close unsubscribes and waits for queued events to be written.
func (r *Recorder) Close() error {
	var err error
	if r.sub != nil {
		err = r.sub.Unsubscribe()
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return err
}
