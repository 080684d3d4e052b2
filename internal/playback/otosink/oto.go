// Package otosink plays buffers through the local sound device using oto.
package otosink

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/loqalabs/devmaster/internal/audio"
	"github.com/loqalabs/devmaster/internal/playback"
)

const pollInterval = 20 * time.Millisecond

// Output is a playback.Output backed by a single oto context. oto allows one
// context per process, so the sample rate is fixed at construction.
type Output struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
	log        *slog.Logger
}

func New(sampleRate, channels int, log *slog.Logger) (*Output, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready
	log.Info("audio output initialized", slog.Int("sample_rate", sampleRate), slog.Int("channels", channels))
	return &Output{ctx: ctx, sampleRate: sampleRate, channels: channels, log: log}, nil
}

func (o *Output) Start(buf *audio.Buffer) (playback.Stream, error) {
	if buf.SampleRate() != o.sampleRate || buf.NumberOfChannels() != o.channels {
		return nil, fmt.Errorf("buffer format %dHz/%dch does not match device %dHz/%dch",
			buf.SampleRate(), buf.NumberOfChannels(), o.sampleRate, o.channels)
	}
	player := o.ctx.NewPlayer(bytes.NewReader(buf.PCM16()))
	s := &stream{player: player, done: make(chan struct{}), quit: make(chan struct{}), log: o.log}
	player.Play()
	go s.monitor()
	return s, nil
}

type stream struct {
	player   *oto.Player
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
	log      *slog.Logger
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *stream) monitor() {
	defer close(s.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			s.player.Pause()
			s.release()
			return
		case <-ticker.C:
			if !s.player.IsPlaying() {
				s.release()
				return
			}
		}
	}
}

func (s *stream) release() {
	if err := s.player.Err(); err != nil {
		s.log.Warn("audio player error", slog.String("error", err.Error()))
	}
	if err := s.player.Close(); err != nil {
		s.log.Warn("audio player close failed", slog.String("error", err.Error()))
	}
}
