package runtime

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/eventstore"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/loqalabs/devmaster/internal/studio"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(t.TempDir(), "nats")
	cfg.Bus.RequestTimeout = 5000
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.EventStore.RetentionMode = "persistent"
	cfg.Playback.Output = "none"
	cfg.Studio.AutoPlay = true
	return cfg
}

func TestRuntimeEndToEnd(t *testing.T) {
	rt := New(testConfig(t), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("runtime returned error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	select {
	case <-rt.Started():
	case err := <-errCh:
		t.Fatalf("runtime failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not start")
	}
	base := "http://" + rt.Addr()

	for _, path := range []string{"/healthz", "/readyz"} {
		expectStatus(t, do(t, http.MethodGet, base+path, ""), http.StatusOK)
	}

	resp := do(t, http.MethodPost, base+"/v1/sessions", "")
	expectStatus(t, resp, http.StatusCreated)
	var state studio.State
	decode(t, resp, &state)
	session := base + "/v1/sessions/" + state.ID

	resp = do(t, http.MethodPost, session+"/content", `{"tech_stack":"python_ai"}`)
	expectStatus(t, resp, http.StatusOK)
	var content studio.ContentResult
	decode(t, resp, &content)
	if content.Fallback {
		t.Fatalf("expected generated content over the bus, got fallback %q", content.Markdown)
	}

	resp = do(t, http.MethodPost, session+"/voice", `{"gender":"female"}`)
	expectStatus(t, resp, http.StatusOK)
	var voice studio.VoiceResult
	decode(t, resp, &voice)
	if voice.Voice != "Kore" || voice.Frames == 0 {
		t.Fatalf("unexpected voice %+v", voice)
	}

	resp = do(t, http.MethodGet, session+"/export", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected export type %q", resp.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = do(t, http.MethodGet, session+"/history", "")
		expectStatus(t, resp, http.StatusOK)
		var body struct {
			Events []eventstore.Event `json:"events"`
		}
		decode(t, resp, &body)
		if hasEvent(body.Events, protocol.EventExported) {
			if !hasEvent(body.Events, protocol.EventSessionCreated) || !hasEvent(body.Events, protocol.EventVoiceReady) {
				t.Fatalf("history missing lifecycle events: %+v", body.Events)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("export never reached history: %+v", body.Events)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp = do(t, http.MethodGet, base+"/v1/capabilities?name=llm", "")
	expectStatus(t, resp, http.StatusOK)
	var caps struct {
		Nodes []struct {
			ID      string `json:"id"`
			Healthy bool   `json:"healthy"`
		} `json:"nodes"`
	}
	decode(t, resp, &caps)
	if len(caps.Nodes) != 1 || caps.Nodes[0].ID != "devmaster-node-1" || !caps.Nodes[0].Healthy {
		t.Fatalf("unexpected capabilities %+v", caps.Nodes)
	}

	resp = do(t, http.MethodGet, base+"/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	metrics, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(metrics), "studio_content_requests") {
		t.Fatal("expected studio counters on /metrics")
	}
}

func hasEvent(events []eventstore.Event, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func TestStatusForSentinels(t *testing.T) {
	cases := map[error]int{
		studio.ErrNotFound:     http.StatusNotFound,
		studio.ErrClosed:       http.StatusGone,
		studio.ErrStale:        http.StatusConflict,
		studio.ErrBusy:         http.StatusConflict,
		studio.ErrSessionLimit: http.StatusTooManyRequests,
		studio.ErrNoAudio:      http.StatusBadGateway,
		context.Canceled:       http.StatusGatewayTimeout,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v)=%d want %d", err, got, want)
		}
	}
}
