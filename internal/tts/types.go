package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrNoAudio is returned when a backend finished without producing samples.
var ErrNoAudio = errors.New("tts: no audio produced")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	TraceID   string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Implementations close both
// channels when done and stop sending once ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Speech is a complete synthesized utterance as little-endian 16-bit PCM.
type Speech struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Speaker is what the studio talks to: a Synthesizer in process or the speech
// service over the bus.
type Speaker interface {
	Speak(ctx context.Context, req SynthRequest) (Speech, error)
}

// Collect drains s and concatenates every chunk. The format of the first
// non-empty chunk wins.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) (Speech, error) {
	chunks, errs := s.Synthesize(ctx, req)
	var (
		speech   Speech
		firstErr error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk.PCM) == 0 {
				continue
			}
			if speech.SampleRate == 0 {
				speech.SampleRate = chunk.SampleRate
				speech.Channels = chunk.Channels
			}
			speech.PCM = append(speech.PCM, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return Speech{}, ctx.Err()
		}
	}
	if firstErr != nil {
		return Speech{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	if len(speech.PCM) == 0 {
		return Speech{}, ErrNoAudio
	}
	return speech, nil
}

const ellipsis = "..."

// PrepareText cuts text longer than max characters to its first max
// characters followed by "...". Shorter text is returned unchanged.
func PrepareText(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + ellipsis
}

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// ParseGender maps user input onto a gender. Anything unrecognized is female.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "nam", "m":
		return Male
	default:
		return Female
	}
}
