package llm

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

const queueGroup = "devmaster-llm"

// Service answers content requests arriving on the bus.
type Service struct {
	cfg       config.LLMConfig
	bus       *bus.Client
	generator Generator
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     atomic.Bool
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewService(parent context.Context, cfg config.LLMConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		tracer:    otel.Tracer("github.com/loqalabs/devmaster/internal/llm"),
		logger:    logger.With(slog.String("component", "llm-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectContentRequest, queueGroup, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe content requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.logger.Info("llm service listening", slog.String("mode", s.cfg.Mode), slog.String("subject", protocol.SubjectContentRequest))
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

func (s *Service) Healthy() bool {
	return s.ready.Load()
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ContentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode content request", slogError(err))
		s.reply(msg, protocol.ContentResponse{Error: "malformed request: " + err.Error(), Timestamp: time.Now().UTC()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, timeout(s.cfg.TimeoutMS, 60*time.Second))
		defer cancel()

		res, err := s.complete(ctx, fromProtocol(req))
		resp := protocol.ContentResponse{
			SessionID:        req.SessionID,
			Content:          res.Content,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			LatencyMS:        res.Latency.Milliseconds(),
			TraceID:          req.TraceID,
			Timestamp:        time.Now().UTC(),
		}
		if err != nil {
			s.logger.Warn("llm generation failed", slog.String("session_id", req.SessionID), slogError(err))
			resp.Content = ""
			resp.Error = err.Error()
		} else {
			s.logger.Info("llm generation complete",
				slog.String("session_id", req.SessionID),
				slog.Duration("latency", res.Latency),
				slog.Int("chars", len(res.Content)))
		}
		s.reply(msg, resp)
	}()
}

func (s *Service) complete(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.mode", s.cfg.Mode),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	req = withDefaults(req, s.cfg)
	res, err := Collect(ctx, s.generator, req)
	if err != nil && !errors.Is(err, ErrEmptyCompletion) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("llm.completion_tokens", res.CompletionTokens))
	return res, err
}

func (s *Service) reply(msg *nats.Msg, resp protocol.ContentResponse) {
	if msg.Reply == "" {
		return
	}
	if err := bus.Reply(msg, resp); err != nil {
		s.logger.Warn("failed to reply to content request", slogError(err))
	}
}

func fromProtocol(req protocol.ContentRequest) Request {
	return Request{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TraceID:     req.TraceID,
	}
}

func withDefaults(req Request, cfg config.LLMConfig) Request {
	def := RequestFromConfig(cfg)
	req.MaxTokens = coalesceInt(req.MaxTokens, def.MaxTokens)
	if req.Temperature == 0 {
		req.Temperature = def.Temperature
	}
	return req
}

func timeout(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func coalesceInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
