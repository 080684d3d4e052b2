package tts

import (
	"context"
	"errors"
	"time"

	"github.com/loqalabs/devmaster/internal/bus"
	"github.com/loqalabs/devmaster/internal/config"
	"github.com/loqalabs/devmaster/internal/protocol"
)

// RemoteError carries a failure reported by the speech service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "tts service: " + e.Message }

// Direct calls a Synthesizer in process.
type Direct struct {
	synth Synthesizer
	cfg   config.TTSConfig
}

func NewDirect(synth Synthesizer, cfg config.TTSConfig) *Direct {
	return &Direct{synth: synth, cfg: cfg}
}

func (d *Direct) Speak(ctx context.Context, req SynthRequest) (Speech, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(d.cfg.TimeoutMS, 45*time.Second))
	defer cancel()
	return synthesize(ctx, d.synth, d.cfg, req)
}

// BusClient sends requests to the speech service over NATS.
type BusClient struct {
	bus *bus.Client
}

func NewBusClient(b *bus.Client) *BusClient {
	return &BusClient{bus: b}
}

func (c *BusClient) Speak(ctx context.Context, req SynthRequest) (Speech, error) {
	var resp protocol.VoiceResponse
	err := c.bus.Request(ctx, protocol.SubjectVoiceRequest, protocol.VoiceRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		TraceID:   req.TraceID,
	}, &resp)
	if err != nil {
		return Speech{}, err
	}
	switch {
	case resp.Error != "":
		return Speech{}, &RemoteError{Message: resp.Error}
	case resp.NoAudio || len(resp.PCM) == 0:
		return Speech{}, ErrNoAudio
	}
	return Speech{PCM: resp.PCM, SampleRate: resp.SampleRate, Channels: resp.Channels}, nil
}

// IsNoAudio reports whether err means the backend produced nothing.
func IsNoAudio(err error) bool {
	return errors.Is(err, ErrNoAudio)
}
