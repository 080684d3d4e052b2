// Package capability tracks which studio nodes are alive on the bus and what
// backends they serve.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Capability is one backend a node serves, e.g. llm with mode gemini.
type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type nodeMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// FromConfig describes the backends this process serves.
func FromConfig(cfg config.Config) []Capability {
	return []Capability{
		{Name: "llm", Attributes: map[string]string{"mode": cfg.LLM.Mode, "model": cfg.LLM.Model}},
		{Name: "tts", Attributes: map[string]string{
			"mode":        cfg.TTS.Mode,
			"model":       cfg.TTS.Model,
			"sample_rate": fmt.Sprint(cfg.TTS.SampleRate),
		}},
		{Name: "playback", Attributes: map[string]string{"output": cfg.Playback.Output}},
	}
}

type Registry struct {
	cfg    config.NodeConfig
	caps   []Capability
	log    *slog.Logger
	bus    *bus.Client
	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	now    func() time.Time
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, caps []Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		caps:   caps,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
		now:    time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(protocol.SubjectNodeAnnounce); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	for _, subject := range []string{protocol.SubjectNodeAnnounce, protocol.SubjectNodeHeartbeatWildcard} {
		sub, err := conn.Subscribe(subject, r.handleNodeMessage)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

// run publishes heartbeats and marks silent nodes unhealthy.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.announce(protocol.NodeHeartbeatSubject(r.cfg.ID)); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth(r.now())
		}
	}
}

// Heartbeats carry the capability list so nodes that join late learn it
// without waiting for a fresh announcement.
func (r *Registry) announce(subject string) error {
	msg := nodeMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.caps,
		Timestamp:    r.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(subject, payload); err != nil {
		return err
	}
	r.updateNode(msg)
	return nil
}

func (r *Registry) handleNodeMessage(msg *nats.Msg) {
	var m nodeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil || m.NodeID == "" {
		r.log.Warn("invalid node message", slog.String("subject", msg.Subject))
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now().UTC()
	}
	r.updateNode(m)
}

func (r *Registry) updateNode(m nodeMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[m.NodeID]
	if !ok {
		node = &NodeInfo{ID: m.NodeID}
		r.nodes[m.NodeID] = node
		if m.NodeID != r.cfg.ID {
			r.log.Info("node discovered", slog.String("node_id", m.NodeID), slog.String("role", m.Role))
		}
	}
	if m.Role != "" {
		node.Role = m.Role
	}
	if len(m.Capabilities) > 0 {
		node.Capabilities = m.Capabilities
	}
	if m.Timestamp.After(node.LastSeen) {
		node.LastSeen = m.Timestamp
	}
	node.Healthy = true
}

func (r *Registry) evaluateHealth(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	for _, node := range r.nodes {
		if node.Healthy && now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
			r.log.Warn("node missed heartbeats", slog.String("node_id", node.ID))
		}
	}
}

// Query returns matching nodes ordered by id.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	results := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		n := *node
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	r.mu.RUnlock()
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/devmaster/internal/capability")
	nodes, err := meter.Int64ObservableGauge("studio.nodes.healthy", metric.WithDescription("Nodes with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(nodes, int64(len(r.Query(Healthy))))
		return nil
	}, nodes)
	return err
}

// Healthy keeps nodes with a recent heartbeat.
func Healthy(node NodeInfo) bool { return node.Healthy }

// WithCapability keeps nodes that serve name.
func WithCapability(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}
