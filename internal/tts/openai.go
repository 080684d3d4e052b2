package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/loqalabs/devmaster/internal/audio"
	openai "github.com/sashabaranov/go-openai"
)

// openAIPCMRate is the fixed rate of the "pcm" response format.
const openAIPCMRate = 24000

const openAIReadSize = 32 * 1024

var openAIVoices = map[string]openai.SpeechVoice{
	"fenrir": openai.VoiceOnyx,
	"kore":   openai.VoiceNova,
}

type openAISynth struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewOpenAISynth streams raw PCM from the speech endpoint. baseURL may point at
// an OpenAI-compatible server; empty uses the public API.
func NewOpenAISynth(apiKey, model, baseURL string) Synthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	m := openai.SpeechModel(model)
	if model == "" || strings.HasPrefix(model, "gemini") {
		m = openai.TTSModel1
	}
	return &openAISynth{client: openai.NewClientWithConfig(cfg), model: m}
}

func (o *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := o.stream(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (o *openAISynth) stream(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          openAIVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return fmt.Errorf("openai create speech: %w", err)
	}
	defer resp.Close()

	// Reads are kept sample aligned so no chunk splits a frame.
	buf := make([]byte, openAIReadSize)
	var carry []byte
	sequence := 0
	for {
		n, readErr := resp.Read(buf)
		data := append(carry, buf[:n]...)
		whole := len(data) - len(data)%audio.BytesPerSample
		carry = append([]byte(nil), data[whole:]...)
		if whole > 0 {
			select {
			case chunks <- SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: openAIPCMRate,
				Channels:   1,
				PCM:        append([]byte(nil), data[:whole]...),
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
			sequence++
		}
		if errors.Is(readErr, io.EOF) {
			if len(carry) > 0 {
				return fmt.Errorf("openai speech: %w", audio.ErrMalformedPCM)
			}
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read openai speech: %w", readErr)
		}
	}
}

func openAIVoice(voice string) openai.SpeechVoice {
	if v, ok := openAIVoices[strings.ToLower(voice)]; ok {
		return v
	}
	if voice == "" {
		return openai.VoiceNova
	}
	return openai.SpeechVoice(strings.ToLower(voice))
}
