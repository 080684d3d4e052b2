package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/natsserver"
)

func testConfig() config.TTSConfig {
	cfg := config.Default().TTS
	cfg.TimeoutMS = 5000
	return cfg
}

func TestPrepareTextBoundary(t *testing.T) {
	exact := strings.Repeat("a", 2000)
	if got := PrepareText(exact, 2000); got != exact {
		t.Fatalf("expected exactly 2000 chars unchanged, got %d", len(got))
	}

	over := strings.Repeat("b", 2001)
	got := PrepareText(over, 2000)
	if got != strings.Repeat("b", 2000)+"..." {
		t.Fatalf("unexpected truncation, len=%d suffix=%q", len(got), got[len(got)-4:])
	}

	viet := strings.Repeat("ệ", 2001)
	got = PrepareText(viet, 2000)
	if n := utf8.RuneCountInString(got); n != 2003 || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected rune-based truncation, got %d runes", n)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}
}

func TestParseGenderAndVoice(t *testing.T) {
	cfg := testConfig()
	cases := map[string]string{
		"male":   "Fenrir",
		"MALE":   "Fenrir",
		"nam":    "Fenrir",
		"female": "Kore",
		"":       "Kore",
		"robot":  "Kore",
	}
	for in, want := range cases {
		if got := VoiceFor(cfg, ParseGender(in)); got != want {
			t.Errorf("VoiceFor(%q)=%q want %q", in, got, want)
		}
	}
}

func TestMockSynthCollect(t *testing.T) {
	speech, err := Collect(context.Background(), NewMockSynth(24000), SynthRequest{Text: "Xin chào", Voice: "Kore"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if speech.SampleRate != 24000 || speech.Channels != 1 {
		t.Fatalf("unexpected format %+v", speech)
	}
	// 8 runes is under the minimum, so the tone lasts 500ms.
	if want := 12000 * 2; len(speech.PCM) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(speech.PCM))
	}

	if _, err := Collect(context.Background(), NewMockSynth(24000), SynthRequest{Text: "   "}); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestMockSynthCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Collect(ctx, NewMockSynth(24000), SynthRequest{Text: "hello"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecSynthConcatenates(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"AAECAw==\"}"; echo "{\"pcm_base64\":\"BAU=\",\"final\":true}"'`, 24000)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	speech, err := Collect(context.Background(), synth, SynthRequest{Text: "x"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(speech.PCM, []byte{0, 1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected pcm %v", speech.PCM)
	}
}

func TestExecSynthFailure(t *testing.T) {
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; exit 3'`, 24000)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := Collect(context.Background(), synth, SynthRequest{Text: "x"}); err == nil || errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected command failure, got %v", err)
	}
}

func TestOpenAISynth(t *testing.T) {
	var got map[string]any
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	speech, err := Collect(context.Background(), NewOpenAISynth("k", "gemini-2.5-flash-preview-tts", srv.URL+"/v1"), SynthRequest{Text: "hi", Voice: "Fenrir"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !bytes.Equal(speech.PCM, pcm) || speech.SampleRate != 24000 {
		t.Fatalf("unexpected speech %+v", speech)
	}
	if got["voice"] != "onyx" || got["response_format"] != "pcm" || got["model"] != "tts-1" {
		t.Fatalf("unexpected request %v", got)
	}
}

func TestRateFromMIME(t *testing.T) {
	cases := []struct {
		mime string
		want int
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000},
		{"audio/L16; rate=16000", 16000},
		{"audio/pcm", 22050},
		{"audio/L16;rate=abc", 22050},
	}
	for _, tc := range cases {
		if got := rateFromMIME(tc.mime, 22050); got != tc.want {
			t.Errorf("rateFromMIME(%q)=%d want %d", tc.mime, got, tc.want)
		}
	}
}

type recordingSynth struct {
	mu    sync.Mutex
	texts []string
	voice string
	pcm   []byte
	err   error
}

func (r *recordingSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	r.mu.Lock()
	r.texts = append(r.texts, req.Text)
	r.voice = req.Voice
	r.mu.Unlock()
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	if r.err != nil {
		errs <- r.err
	} else if len(r.pcm) > 0 {
		chunks <- SynthChunk{SampleRate: 24000, Channels: 1, PCM: r.pcm, Final: true}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (r *recordingSynth) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texts[len(r.texts)-1]
}

func TestDirectTruncatesAndDefaultsVoice(t *testing.T) {
	synth := &recordingSynth{pcm: []byte{0, 0}}
	d := NewDirect(synth, testConfig())
	if _, err := d.Speak(context.Background(), SynthRequest{Text: strings.Repeat("x", 2500)}); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if got := synth.lastText(); len(got) != 2003 {
		t.Fatalf("expected truncated text, got %d chars", len(got))
	}
	if synth.voice != "Kore" {
		t.Fatalf("expected default voice Kore, got %q", synth.voice)
	}
}

func startService(t *testing.T, synth Synthesizer) *BusClient {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
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
	svc := NewService(context.Background(), testConfig(), client, synth, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return NewBusClient(client)
}

func TestServiceRoundTrip(t *testing.T) {
	synth := &recordingSynth{pcm: []byte{1, 2, 3, 4}}
	client := startService(t, synth)
	speech, err := client.Speak(context.Background(), SynthRequest{SessionID: "s", Text: strings.Repeat("y", 2001), Voice: "Fenrir"})
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !bytes.Equal(speech.PCM, []byte{1, 2, 3, 4}) || speech.SampleRate != 24000 || speech.Channels != 1 {
		t.Fatalf("unexpected speech %+v", speech)
	}
	if got := synth.lastText(); got != strings.Repeat("y", 2000)+"..." {
		t.Fatalf("service did not truncate, got %d chars", len(got))
	}
}

func TestServiceNoAudio(t *testing.T) {
	client := startService(t, &recordingSynth{})
	if _, err := client.Speak(context.Background(), SynthRequest{Text: "hi"}); !IsNoAudio(err) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestServiceFailure(t *testing.T) {
	client := startService(t, &recordingSynth{err: errors.New("permission denied")})
	_, err := client.Speak(context.Background(), SynthRequest{Text: "hi"})
	var remote *RemoteError
	if !errors.As(err, &remote) || !strings.Contains(remote.Message, "permission denied") {
		t.Fatalf("expected remote error, got %v", err)
	}
}
