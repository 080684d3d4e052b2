package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/natsserver"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
		RequestTimeout: 2000,
	}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func newRegistry(t *testing.T, client *bus.Client, id string, caps []Capability) *Registry {
	t.Helper()
	cfg := config.NodeConfig{ID: id, Role: "studio", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	r, err := NewRegistry(context.Background(), cfg, caps, client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestRegistriesDiscoverEachOther(t *testing.T) {
	client := startBus(t)
	studio := newRegistry(t, client, "studio-1", FromConfig(config.Default()))
	newRegistry(t, client, "tts-worker", []Capability{{Name: "tts", Attributes: map[string]string{"mode": "gemini"}}})

	deadline := time.Now().Add(3 * time.Second)
	for {
		nodes := studio.Query(WithCapability("tts"))
		if len(nodes) == 2 {
			if nodes[0].ID != "studio-1" || nodes[1].ID != "tts-worker" {
				t.Fatalf("unexpected node order %+v", nodes)
			}
			if nodes[1].Capabilities[0].Attributes["mode"] != "gemini" {
				t.Fatalf("unexpected worker capabilities %+v", nodes[1].Capabilities)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected both nodes, got %+v", nodes)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got := studio.Query(WithCapability("llm")); len(got) != 1 || got[0].ID != "studio-1" {
		t.Fatalf("expected only the studio to serve llm, got %+v", got)
	}
}

func TestEvaluateHealthMarksSilentNodes(t *testing.T) {
	client := startBus(t)
	r := newRegistry(t, client, "studio-1", nil)
	r.updateNode(nodeMessage{NodeID: "gone", Role: "worker", Timestamp: time.Now().Add(-time.Hour)})

	r.evaluateHealth(time.Now())
	healthy := r.Query(Healthy)
	for _, n := range healthy {
		if n.ID == "gone" {
			t.Fatal("expected silent node marked unhealthy")
		}
	}
	if len(r.Query(nil)) < 2 {
		t.Fatal("unhealthy nodes must still be listed")
	}
}

func TestFromConfig(t *testing.T) {
	caps := FromConfig(config.Default())
	if len(caps) != 3 || caps[0].Name != "llm" || caps[1].Attributes["sample_rate"] != "24000" {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}
