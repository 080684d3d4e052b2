package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/devmaster/internal/config"
)

// NewSynthesizer selects the backend named by cfg.Mode.
func NewSynthesizer(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate)
	case "openai":
		return NewOpenAISynth(cfg.APIKey, cfg.Model, ""), nil
	case "gemini":
		return NewGeminiSynth(ctx, cfg.APIKey, cfg.Model, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// VoiceFor returns the configured voice for g.
func VoiceFor(cfg config.TTSConfig, g Gender) string {
	if g == Male {
		return cfg.VoiceMale
	}
	return cfg.VoiceFemale
}
