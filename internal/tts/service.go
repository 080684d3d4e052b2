package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const queueGroup = "devmaster-tts"

// Service answers voice requests arriving on the bus.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  atomic.Bool
	tracer trace.Tracer
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		tracer: otel.Tracer("github.com/loqalabs/devmaster/internal/tts"),
		logger: log.With(slog.String("component", "tts-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectVoiceRequest, queueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe voice requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.logger.Info("tts service listening", slog.String("mode", s.cfg.Mode), slog.String("subject", protocol.SubjectVoiceRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	s.ready.Store(false)
}

func (s *Service) Healthy() bool { return s.ready.Load() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.VoiceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode voice request", slogError(err))
		s.reply(msg, protocol.VoiceResponse{Error: "malformed request: " + err.Error(), Timestamp: time.Now().UTC()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, timeout(s.cfg.TimeoutMS, 45*time.Second))
		defer cancel()

		start := time.Now()
		speech, err := s.speak(ctx, SynthRequest{SessionID: req.SessionID, Text: req.Text, Voice: req.Voice, TraceID: req.TraceID})
		resp := protocol.VoiceResponse{
			SessionID:  req.SessionID,
			PCM:        speech.PCM,
			SampleRate: speech.SampleRate,
			Channels:   speech.Channels,
			LatencyMS:  time.Since(start).Milliseconds(),
			TraceID:    req.TraceID,
			Timestamp:  time.Now().UTC(),
		}
		switch {
		case errors.Is(err, ErrNoAudio):
			s.logger.Warn("tts produced no audio", slog.String("session_id", req.SessionID))
			resp.NoAudio = true
		case err != nil:
			s.logger.Warn("tts synthesis failed", slog.String("session_id", req.SessionID), slogError(err))
			resp.Error = err.Error()
		default:
			s.logger.Info("tts synthesis complete",
				slog.String("session_id", req.SessionID),
				slog.Int("bytes", len(speech.PCM)),
				slog.Duration("latency", time.Since(start)))
		}
		s.reply(msg, resp)
	}()
}

func (s *Service) speak(ctx context.Context, req SynthRequest) (Speech, error) {
	ctx, span := s.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("tts.mode", s.cfg.Mode),
		attribute.String("tts.voice", req.Voice),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	speech, err := synthesize(ctx, s.synth, s.cfg, req)
	if err != nil && !errors.Is(err, ErrNoAudio) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("tts.bytes", len(speech.PCM)))
	return speech, err
}

func (s *Service) reply(msg *nats.Msg, resp protocol.VoiceResponse) {
	if msg.Reply == "" {
		return
	}
	if err := bus.Reply(msg, resp); err != nil {
		s.logger.Warn("failed to reply to voice request", slogError(err))
	}
}

// synthesize applies the shared request policy before calling synth.
func synthesize(ctx context.Context, synth Synthesizer, cfg config.TTSConfig, req SynthRequest) (Speech, error) {
	req.Text = PrepareText(req.Text, cfg.MaxChars)
	if req.Voice == "" {
		req.Voice = cfg.VoiceFemale
	}
	speech, err := Collect(ctx, synth, req)
	if err != nil {
		return Speech{}, err
	}
	if speech.SampleRate == 0 {
		speech.SampleRate = cfg.SampleRate
	}
	if speech.Channels == 0 {
		speech.Channels = 1
	}
	return speech, nil
}

func timeout(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
