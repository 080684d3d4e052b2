package llm

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/protocol"
)

// RemoteError carries a failure reported by the text service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "llm service: " + e.Message }

// Direct calls a Generator in process.
type Direct struct {
	gen Generator
	cfg config.LLMConfig
}

func NewDirect(gen Generator, cfg config.LLMConfig) *Direct {
	return &Direct{gen: gen, cfg: cfg}
}

func (d *Direct) Complete(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(d.cfg.TimeoutMS, 60*time.Second))
	defer cancel()
	return Collect(ctx, d.gen, withDefaults(req, d.cfg))
}

// BusClient sends requests to the text service over NATS.
type BusClient struct {
	bus *bus.Client
}

func NewBusClient(b *bus.Client) *BusClient {
	return &BusClient{bus: b}
}

func (c *BusClient) Complete(ctx context.Context, req Request) (Result, error) {
	var resp protocol.ContentResponse
	err := c.bus.Request(ctx, protocol.SubjectContentRequest, protocol.ContentRequest{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TraceID:     req.TraceID,
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Content:          resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Duration(resp.LatencyMS) * time.Millisecond,
	}
	if resp.Error != "" {
		if resp.Error == ErrEmptyCompletion.Error() {
			return res, ErrEmptyCompletion
		}
		return res, &RemoteError{Message: resp.Error}
	}
	if resp.Content == "" {
		return res, ErrEmptyCompletion
	}
	return res, nil
}

// IsEmpty reports whether err means the model answered with no text.
func IsEmpty(err error) bool {
	return errors.Is(err, ErrEmptyCompletion)
}
