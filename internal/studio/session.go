package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/devmaster/internal/audio"
	"github.com/loqalabs/devmaster/internal/llm"
	"github.com/loqalabs/devmaster/internal/playback"
	"github.com/loqalabs/devmaster/internal/prompt"
	"github.com/loqalabs/devmaster/internal/protocol"
	"github.com/loqalabs/devmaster/internal/render"
	"github.com/loqalabs/devmaster/internal/tts"
)

const (
	FallbackUpstream = "Đã xảy ra lỗi khi kết nối với siêu trí tuệ. Vui lòng kiểm tra API Key."
	FallbackEmpty    = "Xin lỗi, hệ thống đang bận. Vui lòng thử lại."
)

var (
	// ErrStale is returned when a newer request of the same kind started
	// while this one was in flight. The response was dropped.
	ErrStale  = errors.New("studio: response superseded")
	ErrClosed = errors.New("studio: session closed")
	// ErrNoContent means there is nothing to voice yet.
	ErrNoContent = errors.New("studio: no content to voice")
	// ErrBusy means a voice generation is in flight and will replace the
	// buffer when it lands.
	ErrBusy      = errors.New("studio: voice generation in progress")
	ErrNoBuffer  = playback.ErrNoBuffer
	ErrNoAudio   = tts.ErrNoAudio
)

// ContentResult is the outcome of a content request. Fallback is set when
// Markdown is one of the fallback messages rather than model output.
type ContentResult struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Fallback bool   `json:"fallback"`
}

// VoiceInput selects the voice and, optionally, the text to speak. Empty text
// speaks the current content.
type VoiceInput struct {
	Gender string `json:"gender"`
	Text   string `json:"text,omitempty"`
}

type VoiceResult struct {
	Voice      string        `json:"voice"`
	SampleRate int           `json:"sample_rate"`
	Frames     int           `json:"frames"`
	Duration   time.Duration `json:"duration_ns"`
	Playing    bool          `json:"playing"`
}

// Export is a ready-to-save WAV file.
type Export struct {
	Filename string
	Data     []byte
}

// State is a snapshot of a session.
type State struct {
	ID         string        `json:"id"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
	Input      prompt.Input  `json:"input"`
	Content    string        `json:"content"`
	Fallback   bool          `json:"fallback"`
	Generating bool          `json:"generating"`
	Voicing    bool          `json:"voicing"`
	HasAudio   bool          `json:"has_audio"`
	Voice      string        `json:"voice,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Playing    bool          `json:"playing"`
	Closed     bool          `json:"closed"`
}

// Session owns one user's content, voice buffer and playback. All methods are
// safe for concurrent use; a newer request of the same kind supersedes an
// older one still in flight.
type Session struct {
	id      string
	env     *env
	player  *playback.Controller
	created time.Time

	mu          sync.Mutex
	contentGen  uint64
	voiceGen    uint64
	contentBusy bool
	voiceBusy   bool
	closed      bool
	input       prompt.Input
	content     string
	fallback    bool
	buffer      *audio.Buffer
	voice       string
	lastActive  time.Time
}

// env is what sessions share with their manager.
type env struct {
	text     llm.Client
	speech   tts.Speaker
	events   EventSink
	metrics  *metrics
	voices   func(tts.Gender) string
	prefix   string
	autoPlay bool
	now      func() time.Time
	log      *slog.Logger
}

func newSession(id string, e *env, out playback.Output) *Session {
	now := e.now()
	s := &Session{id: id, env: e, created: now, lastActive: now}
	s.player = playback.NewController(out, s.playbackDone)
	return s
}

func (s *Session) ID() string { return s.id }

// GenerateContent asks the text model for content built from in. Upstream
// failures are answered with a fallback message, never an error. Starting a
// content request stops playback and drops the previous voice buffer, since it
// no longer matches the content.
func (s *Session) GenerateContent(ctx context.Context, in prompt.Input) (ContentResult, error) {
	p, err := prompt.FromInput(in)
	if err != nil {
		return ContentResult{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ContentResult{}, ErrClosed
	}
	s.contentGen++
	s.voiceGen++
	gen := s.contentGen
	s.input = in
	s.content = ""
	s.fallback = false
	s.buffer = nil
	s.voice = ""
	s.contentBusy = true
	s.voiceBusy = false
	s.lastActive = s.env.now()
	s.mu.Unlock()

	s.player.Stop()
	s.env.metrics.add(s.env.metrics.contentRequests, "content")
	s.emit(protocol.EventContentRequested, "request_type", in.RequestType, "tech_stack", in.TechStack)

	res, err := s.env.text.Complete(ctx, llm.Request{
		SessionID: s.id,
		Prompt:    p.User,
		System:    p.System,
		TraceID:   traceID(s.id, gen),
	})
	text, fallback := res.Content, false
	switch {
	case llm.IsEmpty(err):
		text, fallback = FallbackEmpty, true
	case err != nil:
		s.env.log.Warn("content generation failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
		text, fallback = FallbackUpstream, true
	}

	s.mu.Lock()
	if err := s.checkLocked(gen, s.contentGen); err != nil {
		s.mu.Unlock()
		s.discarded("content", err)
		return ContentResult{}, err
	}
	s.content = text
	s.fallback = fallback
	s.contentBusy = false
	s.lastActive = s.env.now()
	s.mu.Unlock()

	if fallback {
		s.env.metrics.add(s.env.metrics.fallbacks, "content")
		s.emit(protocol.EventContentFallback, "message", text)
	} else {
		s.emit(protocol.EventContentCompleted, "chars", strconv.Itoa(len(text)))
	}

	html, err := render.HTML(text)
	if err != nil {
		s.env.log.Warn("markdown render failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
	return ContentResult{Markdown: text, HTML: html, Fallback: fallback}, nil
}

// GenerateVoice synthesizes speech, decodes it into the session buffer and,
// when auto play is on, starts playback. Active playback is stopped first. On
// failure the previous buffer is kept.
func (s *Session) GenerateVoice(ctx context.Context, in VoiceInput) (VoiceResult, error) {
	voice := s.env.voices(tts.ParseGender(in.Gender))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return VoiceResult{}, ErrClosed
	}
	text := in.Text
	if strings.TrimSpace(text) == "" {
		text = s.content
	}
	if strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		return VoiceResult{}, ErrNoContent
	}
	s.voiceGen++
	gen := s.voiceGen
	s.voiceBusy = true
	s.lastActive = s.env.now()
	s.mu.Unlock()

	s.player.Stop()
	s.env.metrics.add(s.env.metrics.voiceRequests, voice)
	s.emit(protocol.EventVoiceRequested, "voice", voice)

	speech, err := s.env.speech.Speak(ctx, tts.SynthRequest{
		SessionID: s.id,
		Text:      text,
		Voice:     voice,
		TraceID:   traceID(s.id, gen),
	})
	var buf *audio.Buffer
	if err == nil {
		buf, err = audio.DecodePCM16(speech.PCM, speech.SampleRate, speech.Channels)
		if err != nil {
			err = fmt.Errorf("decode speech: %w", err)
		}
	}

	s.mu.Lock()
	if cerr := s.checkLocked(gen, s.voiceGen); cerr != nil {
		s.mu.Unlock()
		s.discarded("voice", cerr)
		return VoiceResult{}, cerr
	}
	s.voiceBusy = false
	s.lastActive = s.env.now()
	if err != nil {
		s.mu.Unlock()
		reason := "error"
		if errors.Is(err, tts.ErrNoAudio) {
			reason = "no_audio"
		}
		s.env.log.Warn("voice generation failed", slog.String("session_id", s.id), slog.String("reason", reason), slog.String("error", err.Error()))
		s.emit(protocol.EventVoiceFailed, "reason", reason, "error", err.Error())
		return VoiceResult{}, err
	}
	s.buffer = buf
	s.voice = voice
	s.mu.Unlock()

	s.env.metrics.voiceReady(voice, buf.Duration())
	s.emit(protocol.EventVoiceReady,
		"voice", voice,
		"sample_rate", strconv.Itoa(buf.SampleRate()),
		"duration_ms", strconv.FormatInt(buf.Duration().Milliseconds(), 10))

	res := VoiceResult{
		Voice:      voice,
		SampleRate: buf.SampleRate(),
		Frames:     buf.Length(),
		Duration:   buf.Duration(),
	}
	if s.env.autoPlay {
		if err := s.playBuffer(gen, buf); err != nil {
			s.env.log.Warn("auto play failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
		} else {
			res.Playing = true
		}
	}
	return res, nil
}

// Play starts the current buffer from the beginning, replacing any active
// playback.
func (s *Session) Play() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.voiceBusy {
		s.mu.Unlock()
		return ErrBusy
	}
	buf, gen := s.buffer, s.voiceGen
	s.lastActive = s.env.now()
	s.mu.Unlock()
	if buf == nil {
		return ErrNoBuffer
	}
	return s.playBuffer(gen, buf)
}

func (s *Session) playBuffer(gen uint64, buf *audio.Buffer) error {
	if _, err := s.player.Start(buf); err != nil {
		return err
	}
	// A voice request that started meanwhile must not be talked over.
	s.mu.Lock()
	superseded := s.closed || gen != s.voiceGen
	s.mu.Unlock()
	if superseded {
		s.player.Stop()
		return ErrStale
	}
	s.emit(protocol.EventPlaybackStarted, "duration_ms", strconv.FormatInt(buf.Duration().Milliseconds(), 10))
	return nil
}

// Stop halts playback. It is a no-op when nothing is playing.
func (s *Session) Stop() {
	s.touch()
	s.player.Stop()
}

// Export returns the current buffer as a WAV file, or ErrNoBuffer.
func (s *Session) Export() (Export, error) {
	s.mu.Lock()
	buf := s.buffer
	s.lastActive = s.env.now()
	s.mu.Unlock()
	if buf == nil {
		return Export{}, ErrNoBuffer
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		return Export{}, fmt.Errorf("encode wav: %w", err)
	}
	name := fmt.Sprintf("%s-%d.wav", s.env.prefix, s.env.now().UnixMilli())
	s.env.metrics.add(s.env.metrics.exports, "wav")
	s.emit(protocol.EventExported, "filename", name, "bytes", strconv.Itoa(len(data)))
	return Export{Filename: name, Data: data}, nil
}

// Buffer returns the current voice buffer, or nil.
func (s *Session) Buffer() *audio.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		ID:         s.id,
		CreatedAt:  s.created,
		LastActive: s.lastActive,
		Input:      s.input,
		Content:    s.content,
		Fallback:   s.fallback,
		Generating: s.contentBusy,
		Voicing:    s.voiceBusy,
		HasAudio:   s.buffer != nil,
		Voice:      s.voice,
		Closed:     s.closed,
	}
	if s.buffer != nil {
		st.Duration = s.buffer.Duration()
	}
	s.mu.Unlock()
	st.Playing = s.player.Playing()
	return st
}

// Close stops playback and makes every in-flight response stale. It is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.contentGen++
	s.voiceGen++
	s.mu.Unlock()
	s.player.Stop()
	s.emit(protocol.EventSessionClosed)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.env.now()
	s.mu.Unlock()
}

// checkLocked decides whether a response for generation gen may be applied.
func (s *Session) checkLocked(gen, current uint64) error {
	if s.closed {
		return ErrClosed
	}
	if gen != current {
		return ErrStale
	}
	return nil
}

func (s *Session) discarded(kind string, err error) {
	s.env.metrics.add(s.env.metrics.staleDiscards, kind)
	s.env.log.Debug("discarded response", slog.String("session_id", s.id), slog.String("kind", kind), slog.String("reason", err.Error()))
}

func (s *Session) playbackDone(p *playback.Session) {
	if p.Reason() == playback.ReasonEnded {
		s.emit(protocol.EventPlaybackEnded)
		return
	}
	s.emit(protocol.EventPlaybackStopped, "reason", p.Reason().String())
}

func (s *Session) emit(eventType string, kv ...string) {
	s.env.events.Emit(newEvent(s.id, eventType, kv...))
}

func traceID(sessionID string, gen uint64) string {
	return sessionID + "-" + strconv.FormatUint(gen, 10)
}
