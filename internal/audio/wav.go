package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// HeaderSize is the length of the canonical RIFF/WAVE header.
	HeaderSize = 44

	formatPCM     = 1
	bitsPerSample = 16
	maxDataSize   = math.MaxUint32 - 36
)

var (
	ErrPayloadTooLarge = errors.New("audio: pcm payload exceeds wav size limit")
	ErrInvalidWAV      = errors.New("audio: not a valid wav file")
	ErrUnsupportedWAV  = errors.New("audio: only 16-bit pcm wav is supported")
)

// Header builds the 44-byte header for a 16-bit PCM payload of dataSize bytes.
func Header(dataSize uint32, sampleRate, channels int) [HeaderSize]byte {
	var h [HeaderSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*channels*BytesPerSample))
	binary.LittleEndian.PutUint16(h[32:34], uint16(channels*BytesPerSample))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// WrapPCM16 prefixes raw 16-bit PCM with a WAV header. The payload is copied
// unchanged. An empty payload yields a header-only file with dataSize 0.
func WrapPCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, ErrInvalidFormat
	}
	if uint64(len(pcm)) > maxDataSize {
		return nil, ErrPayloadTooLarge
	}
	h := Header(uint32(len(pcm)), sampleRate, channels)
	out := make([]byte, HeaderSize+len(pcm))
	copy(out, h[:])
	copy(out[HeaderSize:], pcm)
	return out, nil
}

// EncodeWAV renders buf as a canonical WAV byte stream.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if buf == nil {
		return nil, ErrInvalidFormat
	}
	return WrapPCM16(buf.PCM16(), buf.SampleRate(), buf.NumberOfChannels())
}

// WriteWAV streams the WAV encoding of buf to w.
func WriteWAV(w io.Writer, buf *Buffer) error {
	data, err := EncodeWAV(buf)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Info describes a WAV stream as reported by the decoder.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
	Duration   time.Duration
}

// Inspect reads the format and length of a WAV stream.
func Inspect(r io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}
	if err := checkFrames(dec); err != nil {
		return Info{}, err
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("read wav pcm: %w", err)
	}
	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if info.Channels > 0 {
		info.Frames = len(pcm.Data) / info.Channels
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(info.Frames) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}

// ReadWAV decodes a mono 16-bit PCM WAV stream into a Buffer.
func ReadWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if dec.WavAudioFormat != formatPCM || dec.BitDepth != bitsPerSample {
		return nil, ErrUnsupportedWAV
	}
	if dec.NumChans != 1 {
		return nil, ErrUnsupportedChannels
	}
	if err := checkFrames(dec); err != nil {
		return nil, err
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav pcm: %w", err)
	}
	return fromIntBuffer(pcm, int(dec.SampleRate))
}

// checkFrames positions dec at the data chunk and rejects a chunk that is
// not a whole number of frames. The decoder would otherwise pad the last
// sample with stale bytes.
func checkFrames(dec *wav.Decoder) error {
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("read wav pcm: %w", err)
	}
	if err := dec.Err(); err != nil {
		return fmt.Errorf("read wav header: %w", err)
	}
	frameSize := int64(dec.NumChans) * int64((dec.BitDepth-1)/8+1)
	if frameSize <= 0 {
		return ErrInvalidWAV
	}
	if rem := dec.PCMLen() % frameSize; rem != 0 {
		return fmt.Errorf("%w: %d bytes, %d trailing", ErrMalformedPCM, dec.PCMLen(), rem)
	}
	return nil
}

func fromIntBuffer(pcm *goaudio.IntBuffer, sampleRate int) (*Buffer, error) {
	if len(pcm.Data) == 0 {
		return nil, ErrEmptyPCM
	}
	samples := make([]float32, len(pcm.Data))
	for i, s := range pcm.Data {
		samples[i] = Int16ToFloat32(int16(s))
	}
	return NewBuffer(sampleRate, samples)
}
