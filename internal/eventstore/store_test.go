package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/devmaster/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.AppendEvent(context.Background(), Event{SessionID: "s", Type: "x"}); err != nil {
		t.Fatalf("append in ephemeral mode: %v", err)
	}
	events, err := es.ListSessionEvents(context.Background(), "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no history, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := es.AppendEvent(ctx, Event{SessionID: "session-123", Type: "content_requested", CreatedAt: base}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	detail := map[string]string{"voice": "Kore", "frames": "24000"}
	if err := es.AppendEvent(ctx, Event{SessionID: "session-123", Type: "voice_ready", Detail: detail, CreatedAt: base.Add(time.Second)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "other", Type: "content_requested", CreatedAt: base}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "content_requested" || events[1].Type != "voice_ready" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if events[1].Detail["voice"] != "Kore" || events[1].Detail["frames"] != "24000" {
		t.Fatalf("unexpected detail: %v", events[1].Detail)
	}
	if !events[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected timestamp %v", events[1].CreatedAt)
	}

	limited, err := es.ListSessionEvents(ctx, "session-123", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d %v", len(limited), err)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, "new-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}

func TestSessionRetentionDropsClosedSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	for _, id := range []string{"open", "done"} {
		if err := es.AppendEvent(ctx, Event{SessionID: id, Type: "session_created"}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.MarkClosed(ctx, "done"); err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	if events, _ := es.ListSessionEvents(ctx, "done", 10); len(events) != 1 {
		t.Fatal("closed session history must survive until pruned")
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if events, _ := es.ListSessionEvents(ctx, "done", 10); len(events) != 0 {
		t.Fatalf("expected closed session pruned, got %d events", len(events))
	}
	if events, _ := es.ListSessionEvents(ctx, "open", 10); len(events) != 1 {
		t.Fatal("open session history must be kept")
	}
}
