package audio

import (
	"encoding/binary"
	"fmt"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// DecodePCM16 converts raw signed 16-bit little-endian PCM into a Buffer.
func DecodePCM16(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, ErrInvalidFormat
	}
	if channels != 1 {
		return nil, ErrUnsupportedChannels
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyPCM
	}
	frameSize := BytesPerSample * channels
	if len(pcm)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, %d trailing", ErrMalformedPCM, len(pcm), len(pcm)%frameSize)
	}

	samples := make([]float32, len(pcm)/frameSize)
	for i := range samples {
		samples[i] = Int16ToFloat32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return &Buffer{sampleRate: sampleRate, channels: [][]float32{samples}}, nil
}
