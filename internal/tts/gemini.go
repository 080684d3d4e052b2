package tts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash-preview-tts"

type geminiSynth struct {
	client     *genai.Client
	model      string
	sampleRate int
}

// NewGeminiSynth synthesizes speech with a Gemini TTS model using prebuilt
// voices. sampleRate applies when the response does not state its rate.
func NewGeminiSynth(ctx context.Context, apiKey, model string, sampleRate int) (Synthesizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &geminiSynth{client: client, model: model, sampleRate: sampleRate}, nil
}

func (g *geminiSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		cfg := &genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
				},
			},
		}
		contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: req.Text}}}}
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			errs <- fmt.Errorf("gemini generate speech: %w", err)
			return
		}
		blob := firstAudio(resp)
		if blob == nil {
			return
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			SampleRate: rateFromMIME(blob.MIMEType, g.sampleRate),
			Channels:   1,
			PCM:        blob.Data,
			Final:      true,
		}
	}()
	return chunks, errs
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData
		}
	}
	return nil
}

// rateFromMIME reads the rate parameter of types like
// "audio/L16;codec=pcm;rate=24000".
func rateFromMIME(mime string, fallback int) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
