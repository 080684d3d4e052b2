// Package studio ties text generation, speech synthesis, playback and export
// into per-user sessions.
package studio

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/llm"
	"github.com/loqalabs/devmaster/internal/playback"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/loqalabs/devmaster/internal/tts"
)

var (
	ErrNotFound     = errors.New("studio: session not found")
	ErrSessionLimit = errors.New("studio: session limit reached")
)

// Options wires a Manager to its collaborators.
type Options struct {
	Text   llm.Client
	Speech tts.Speaker
	Output playback.Output
	Events EventSink
	Studio config.StudioConfig
	TTS    config.TTSConfig
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns every open session.
type Manager struct {
	env         *env
	out         playback.Output
	maxSessions int
	idle        time.Duration
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewManager(opts Options) *Manager {
	log := opts.Logger.With(slog.String("component", "studio"))
	events := opts.Events
	if events == nil {
		events = Discard
	}
	out := opts.Output
	if out == nil {
		out = playback.Discard{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttsCfg := opts.TTS
	return &Manager{
		env: &env{
			text:     opts.Text,
			speech:   opts.Speech,
			events:   events,
			metrics:  newMetrics(),
			voices:   func(g tts.Gender) string { return tts.VoiceFor(ttsCfg, g) },
			prefix:   opts.Studio.ExportPrefix,
			autoPlay: opts.Studio.AutoPlay,
			now:      now,
			log:      log,
		},
		out:         out,
		maxSessions: opts.Studio.MaxSessions,
		idle:        time.Duration(opts.Studio.IdleTimeoutMS) * time.Millisecond,
		log:         log,
		sessions:    make(map[string]*Session),
	}
}

// Create opens a new session.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	s := newSession(uuid.NewString(), m.env, m.out)
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.env.metrics.activeSessions.Add(context.Background(), 1)
	s.emit(protocol.EventSessionCreated)
	m.log.Info("session created", slog.String("session_id", s.id))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close closes and forgets the session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.release(s)
	m.log.Info("session closed", slog.String("session_id", id))
	return nil
}

// List returns open session ids in creation order.
func (m *Manager) List() []string {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].created.Before(all[j].created) })
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle since before now minus the idle timeout and
// returns how many it closed. Sessions that are playing are kept.
func (m *Manager) Reap(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-m.idle)
	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && !s.player.Playing() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range expired {
		m.release(s)
		m.log.Info("session expired", slog.String("session_id", s.id))
	}
	return len(expired)
}

// Run reaps idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idle <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(m.env.now())
		}
	}
}

// Shutdown closes every session and rejects new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		m.release(s)
	}
}

func (m *Manager) release(s *Session) {
	s.Close()
	m.env.metrics.activeSessions.Add(context.Background(), -1)
}
