package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/natsserver"
)

type staticGenerator struct {
	chunks []string
	err    error
}

func (g staticGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	if g.err != nil {
		return g.err
	}
	for _, c := range g.chunks {
		if err := consumer(Chunk{SessionID: req.SessionID, Content: c, Partial: true}); err != nil {
			return err
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCollectJoinsChunks(t *testing.T) {
	res, err := Collect(context.Background(), NewMockGenerator(), Request{Prompt: "  viết API  "})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !strings.Contains(res.Content, "> viết API\n") {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestCollectEmpty(t *testing.T) {
	_, err := Collect(context.Background(), staticGenerator{chunks: []string{" ", "\n"}}, Request{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestExecGenerator(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; printf "{\"content\":\"xin chao\",\"completion_tokens\":3}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	res, err := Collect(context.Background(), gen, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Content != "xin chao" || res.CompletionTokens != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := NewExecGenerator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecGeneratorReportsError(t *testing.T) {
	gen, err := NewExecGenerator(`sh -c 'cat >/dev/null; printf "{\"error\":\"quota\"}"'`)
	if err != nil {
		t.Fatalf("new exec generator: %v", err)
	}
	if _, err := Collect(context.Background(), gen, Request{}); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintln(w, `{"response":"Xin ","done":false}`)
		fmt.Fprintln(w, `{"response":"chào","done":true,"eval_count":2,"prompt_eval_count":5}`)
	}))
	defer srv.Close()

	res, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "gemini-2.5-flash"), Request{Prompt: "p", System: "s", Temperature: 0.7})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Content != "Xin chào" || res.PromptTokens != 5 || res.CompletionTokens != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.Model != defaultOllamaModel || got.System != "s" || !got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaGeneratorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	if _, err := Collect(context.Background(), NewOllamaGenerator(srv.URL, "llama3"), Request{}); err == nil {
		t.Fatal("expected error on bad status")
	}
}

func TestOpenAIGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Đây ", "là ", "mã"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	res, err := Collect(context.Background(), NewOpenAIGenerator("test-key", "", srv.URL+"/v1"), Request{Prompt: "p", System: "s"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Content != "Đây là mã" {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestNewGeneratorModes(t *testing.T) {
	if _, err := NewGenerator(context.Background(), config.LLMConfig{Mode: "mock"}); err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := NewGenerator(context.Background(), config.LLMConfig{Mode: "exec"}); err == nil {
		t.Fatal("expected exec without command to fail")
	}
	if _, err := NewGenerator(context.Background(), config.LLMConfig{Mode: "telepathy"}); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func startService(t *testing.T, gen Generator) *BusClient {
	t.Helper()
	log := discardLogger()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000, RequestTimeout: 5000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	svc := NewService(context.Background(), config.LLMConfig{Mode: "mock", Temperature: 0.7, TimeoutMS: 5000}, client, gen, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}
	return NewBusClient(client)
}

func TestServiceRoundTrip(t *testing.T) {
	client := startService(t, staticGenerator{chunks: []string{"# Tiêu đề", "\nnội dung"}})
	res, err := client.Complete(context.Background(), Request{SessionID: "s1", Prompt: "p"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Content != "# Tiêu đề\nnội dung" {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestServicePropagatesFailures(t *testing.T) {
	client := startService(t, staticGenerator{err: errors.New("invalid api key")})
	_, err := client.Complete(context.Background(), Request{Prompt: "p"})
	var remote *RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "invalid api key") {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestServiceEmptyCompletion(t *testing.T) {
	client := startService(t, staticGenerator{})
	if _, err := client.Complete(context.Background(), Request{Prompt: "p"}); !IsEmpty(err) {
		t.Fatalf("expected empty completion, got %v", err)
	}
}

func TestDirectAppliesDefaults(t *testing.T) {
	var seen Request
	gen := generatorFunc(func(ctx context.Context, req Request, consumer func(Chunk) error) error {
		seen = req
		return consumer(Chunk{Content: "ok"})
	})
	d := NewDirect(gen, config.LLMConfig{Temperature: 0.7, MaxTokens: 256})
	if _, err := d.Complete(context.Background(), Request{Prompt: "p"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if seen.Temperature != 0.7 || seen.MaxTokens != 256 {
		t.Fatalf("defaults not applied: %+v", seen)
	}
}

type generatorFunc func(ctx context.Context, req Request, consumer func(Chunk) error) error

func (f generatorFunc) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	return f(ctx, req, consumer)
}
