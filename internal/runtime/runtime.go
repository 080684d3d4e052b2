package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/capability"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/eventstore"
	"github.com/loqalabs/devmaster/internal/llm"
	"github.com/loqalabs/devmaster/internal/natsserver"
	"github.com/loqalabs/devmaster/internal/playback"
	"github.com/loqalabs/devmaster/internal/playback/otosink"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/loqalabs/devmaster/internal/studio"
	"github.com/loqalabs/devmaster/internal/tts"
)

const (
	eventStreamName = "STUDIO_EVENTS"
	eventStreamAge  = 24 * time.Hour
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	started     chan struct{}
	addr        atomic.Value
	wg          sync.WaitGroup

	server   *natsserver.EmbeddedServer
	bus      *bus.Client
	registry *capability.Registry
	llm      *llm.Service
	tts      *tts.Service
	store    *eventstore.Store
	recorder *eventstore.Recorder
	studio   *studio.Manager
	api      *API
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// Started is closed once the HTTP listener accepts connections.
func (r *Runtime) Started() <-chan struct{} { return r.started }

// Addr is the bound HTTP address, empty before Started.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.closeTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.stopComponents()
		r.closeTelemetry()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.studio.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	close(r.started)
	r.logger.Info("runtime started", slog.String("addr", ln.Addr().String()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	r.api.Close()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.stopComponents()
	r.closeTelemetry()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	srv, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.server = srv

	busCfg := r.cfg.Bus
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	if err := r.bus.EnsureStream(eventStreamName, eventStreamAge, protocol.SubjectEventWildcard); err != nil {
		r.logger.Warn("event stream unavailable", slog.String("error", err.Error()))
	}

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, capability.FromConfig(r.cfg), r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}

	generator, err := llm.NewGenerator(ctx, r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create text generator: %w", err)
	}
	r.llm = llm.NewService(ctx, r.cfg.LLM, r.bus, generator, r.logger)
	if err := r.llm.Start(); err != nil {
		return fmt.Errorf("failed to start llm service: %w", err)
	}

	synth, err := tts.NewSynthesizer(ctx, r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	r.tts = tts.NewService(ctx, r.cfg.TTS, r.bus, synth, r.logger)
	if err := r.tts.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.recorder, err = eventstore.NewRecorder(r.bus.Conn(), r.store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start event recorder: %w", err)
	}

	out, err := newOutput(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.studio = studio.NewManager(studio.Options{
		Text:   llm.NewBusClient(r.bus),
		Speech: tts.NewBusClient(r.bus),
		Output: out,
		Events: studio.NewBusSink(r.bus, r.logger),
		Studio: r.cfg.Studio,
		TTS:    r.cfg.TTS,
		Logger: r.logger,
	})
	r.api = NewAPI(r.studio, r.store, r.bus.Conn(), r.logger)
	r.api.nodes = r.registry
	return nil
}

// stopComponents tears down in reverse start order; any may be nil.
func (r *Runtime) stopComponents() {
	if r.studio != nil {
		r.studio.Shutdown()
	}
	if r.bus != nil {
		// Let session_closed events reach the recorder.
		if err := r.bus.Conn().Flush(); err != nil {
			r.logger.Warn("bus flush failed", slog.String("error", err.Error()))
		}
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.logger.Warn("event recorder close failed", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
	if r.tts != nil {
		r.tts.Close()
	}
	if r.llm != nil {
		r.llm.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.server != nil {
		r.server.Shutdown()
	}
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func newOutput(cfg config.Config, logger *slog.Logger) (playback.Output, error) {
	switch cfg.Playback.Output {
	case "none":
		return playback.Discard{}, nil
	case "oto":
		out, err := otosink.New(cfg.TTS.SampleRate, cfg.TTS.Channels, logger.With(slog.String("component", "audio-output")))
		if err != nil {
			return nil, fmt.Errorf("failed to open audio device: %w", err)
		}
		return out, nil
	default:
		return playback.TimerOutput{}, nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.llm.Healthy() && r.tts.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
