package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/loqalabs/devmaster/internal/config"
)

// ErrEmptyCompletion is returned by Collect when the backend produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Result is a fully assembled completion.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Client is what the studio talks to: either a Generator in process or the
// text service over the bus.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// RequestFromConfig builds defaults from config.
func RequestFromConfig(cfg config.LLMConfig) Request {
	return Request{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
}

// Collect runs g to completion and joins the streamed chunks.
func Collect(ctx context.Context, g Generator, req Request) (Result, error) {
	var (
		b   strings.Builder
		res Result
	)
	start := time.Now()
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		if c.PromptTokens > 0 {
			res.PromptTokens = c.PromptTokens
		}
		if c.CompletionTokens > 0 {
			res.CompletionTokens = c.CompletionTokens
		}
		return nil
	})
	res.Latency = time.Since(start)
	if err != nil {
		return res, err
	}
	res.Content = b.String()
	if strings.TrimSpace(res.Content) == "" {
		return res, ErrEmptyCompletion
	}
	return res, nil
}
