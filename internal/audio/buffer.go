// Package audio converts between raw 16-bit PCM, decoded float buffers and
// canonical WAV files.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

var (
	ErrEmptyPCM            = errors.New("audio: empty pcm payload")
	ErrMalformedPCM        = errors.New("audio: pcm length is not a whole number of frames")
	ErrUnsupportedChannels = errors.New("audio: only mono audio is supported")
	ErrInvalidFormat       = errors.New("audio: invalid sample rate or channel count")
)

// Buffer is a decoded, ready-to-play audio buffer. Samples are float32 in
// [-1.0, 1.0]. A Buffer is never mutated after construction.
type Buffer struct {
	sampleRate int
	channels   [][]float32
}

// NewBuffer wraps per-channel sample slices. Only a single channel is accepted.
func NewBuffer(sampleRate int, channels ...[]float32) (*Buffer, error) {
	if sampleRate <= 0 || len(channels) == 0 {
		return nil, ErrInvalidFormat
	}
	if len(channels) != 1 {
		return nil, ErrUnsupportedChannels
	}
	return &Buffer{sampleRate: sampleRate, channels: channels}, nil
}

func (b *Buffer) SampleRate() int { return b.sampleRate }

func (b *Buffer) NumberOfChannels() int { return len(b.channels) }

// Length returns the frame count.
func (b *Buffer) Length() int {
	if len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// ChannelData returns the samples of channel ch. Callers must not modify it.
func (b *Buffer) ChannelData(ch int) []float32 {
	return b.channels[ch]
}

func (b *Buffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Length()) * time.Second / time.Duration(b.sampleRate)
}

// PCM16 re-encodes the buffer as interleaved signed 16-bit little-endian PCM.
func (b *Buffer) PCM16() []byte {
	frames := b.Length()
	chans := b.NumberOfChannels()
	out := make([]byte, frames*chans*2)
	for i := 0; i < frames; i++ {
		for c := 0; c < chans; c++ {
			off := (i*chans + c) * 2
			binary.LittleEndian.PutUint16(out[off:], uint16(Float32ToInt16(b.channels[c][i])))
		}
	}
	return out
}

// Int16ToFloat32 maps a 16-bit sample onto [-1.0, 1.0) using the fixed
// 32768 divisor. -32768 maps exactly to -1.0.
func Int16ToFloat32(s int16) float32 {
	return float32(s) / 32768.0
}

// Float32ToInt16 is the exact inverse of Int16ToFloat32 for every value it
// produces. Input is clamped to [-1, 1] and the result saturates at 32767.
func Float32ToInt16(f float32) int16 {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	scaled := math.Round(v * 32768)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}
