package tts

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/devmaster/internal/audio"
)

const (
	mockPerRune  = 40 * time.Millisecond
	mockMinDur   = 500 * time.Millisecond
	mockMaxDur   = 5 * time.Second
	mockChunkDur = 250 * time.Millisecond
)

// mockSynth renders a tone whose length follows the text length, so the rest
// of the pipeline can be exercised without a speech backend.
type mockSynth struct {
	sampleRate int
}

func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if strings.TrimSpace(req.Text) == "" {
			return
		}
		d := time.Duration(utf8.RuneCountInString(req.Text)) * mockPerRune
		d = min(max(d, mockMinDur), mockMaxDur)
		pcm := audio.SineTone(toneFor(req.Voice), m.sampleRate, d, 0.3)

		step := int(int64(m.sampleRate)*int64(mockChunkDur)/int64(time.Second)) * audio.BytesPerSample
		if step <= 0 {
			step = len(pcm)
		}
		for seq, off := 0, 0; off < len(pcm); seq, off = seq+1, off+step {
			end := min(off+step, len(pcm))
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   seq,
				SampleRate: m.sampleRate,
				Channels:   1,
				PCM:        pcm[off:end],
				Final:      end == len(pcm),
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

func toneFor(voice string) float64 {
	if voice == "Fenrir" {
		return 180
	}
	return 330
}
