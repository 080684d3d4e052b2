package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDecodeSampleBounds(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(0x8000)) // -32768
	binary.LittleEndian.PutUint16(pcm[2:], uint16(math.MaxInt16))
	binary.LittleEndian.PutUint16(pcm[4:], 0)

	buf, err := DecodePCM16(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data := buf.ChannelData(0)
	if data[0] != -1.0 {
		t.Fatalf("expected -1.0 for min sample, got %v", data[0])
	}
	if want := float32(32767) / 32768; data[1] != want {
		t.Fatalf("expected %v for max sample, got %v", want, data[1])
	}
	if data[1] >= 1.0 || data[1] < 0.9999 {
		t.Fatalf("max sample out of expected range: %v", data[1])
	}
	if data[2] != 0 {
		t.Fatalf("expected silence, got %v", data[2])
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
		want       error
	}{
		{name: "empty", pcm: nil, sampleRate: 24000, channels: 1, want: ErrEmptyPCM},
		{name: "odd length", pcm: []byte{1, 2, 3}, sampleRate: 24000, channels: 1, want: ErrMalformedPCM},
		{name: "stereo", pcm: []byte{1, 2, 3, 4}, sampleRate: 24000, channels: 2, want: ErrUnsupportedChannels},
		{name: "zero rate", pcm: []byte{1, 2}, sampleRate: 0, channels: 1, want: ErrInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := DecodePCM16(tc.pcm, tc.sampleRate, tc.channels)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if buf != nil {
				t.Fatal("expected no buffer on failure")
			}
		})
	}
}

func TestHeaderLayout(t *testing.T) {
	for _, n := range []int{0, 2, 48000} {
		wav, err := WrapPCM16(make([]byte, n), 24000, 1)
		if err != nil {
			t.Fatalf("wrap %d: %v", n, err)
		}
		if len(wav) != HeaderSize+n {
			t.Fatalf("expected %d bytes, got %d", HeaderSize+n, len(wav))
		}
		checks := []struct {
			field string
			got   uint32
			want  uint32
		}{
			{"riff size", binary.LittleEndian.Uint32(wav[4:8]), uint32(36 + n)},
			{"fmt length", binary.LittleEndian.Uint32(wav[16:20]), 16},
			{"format", uint32(binary.LittleEndian.Uint16(wav[20:22])), 1},
			{"channels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
			{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), 24000},
			{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), 48000},
			{"block align", uint32(binary.LittleEndian.Uint16(wav[32:34])), 2},
			{"bits", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
			{"data size", binary.LittleEndian.Uint32(wav[40:44]), uint32(n)},
		}
		for _, c := range checks {
			if c.got != c.want {
				t.Errorf("n=%d %s: expected %d, got %d", n, c.field, c.want, c.got)
			}
		}
		for off, marker := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
			if got := string(wav[off : off+4]); got != marker {
				t.Errorf("n=%d marker at %d: expected %q, got %q", n, off, marker, got)
			}
		}
	}
}

func TestRoundTripIsBitExact(t *testing.T) {
	pcm := make([]byte, 0, 65536*2)
	for s := math.MinInt16; s <= math.MaxInt16; s++ {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(s)))
	}
	buf, err := DecodePCM16(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	wav, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(wav[HeaderSize:], pcm) {
		t.Fatal("payload differs after round trip")
	}
}

func TestOneSecondToneScenario(t *testing.T) {
	pcm := SineTone(440, 24000, time.Second, 0.5)
	if len(pcm) != 48000 {
		t.Fatalf("expected 48000 bytes of tone, got %d", len(pcm))
	}
	buf, err := DecodePCM16(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Duration() != time.Second {
		t.Fatalf("expected 1s buffer, got %v", buf.Duration())
	}
	wav, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 36+48000 {
		t.Fatalf("expected riff size %d, got %d", 36+48000, got)
	}
	if !bytes.Equal(wav[HeaderSize:], pcm) {
		t.Fatal("data chunk differs from source payload")
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{1.0, math.MaxInt16},
		{1.5, math.MaxInt16},
		{-1.0, math.MinInt16},
		{-2.0, math.MinInt16},
		{0, 0},
		{float32(math.NaN()), 0},
	}
	for _, tc := range tests {
		if got := Float32ToInt16(tc.in); got != tc.want {
			t.Errorf("Float32ToInt16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestReadWAVConformance(t *testing.T) {
	pcm := SineTone(220, 24000, 250*time.Millisecond, 0.8)
	wav, err := WrapPCM16(pcm, 24000, 1)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	info, err := Inspect(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected format: %+v", info)
	}
	if info.Frames != len(pcm)/2 {
		t.Fatalf("expected %d frames, got %d", len(pcm)/2, info.Frames)
	}

	buf, err := ReadWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if !bytes.Equal(buf.PCM16(), pcm) {
		t.Fatal("decoded pcm differs from the encoded payload")
	}
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	if _, err := ReadWAV(bytes.NewReader([]byte("definitely not a wav file at all, sorry"))); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadWAVRejectsPartialFrame(t *testing.T) {
	wav, err := WrapPCM16([]byte{1, 2, 3}, 24000, 1)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := ReadWAV(bytes.NewReader(wav)); !errors.Is(err, ErrMalformedPCM) {
		t.Fatalf("ReadWAV: expected ErrMalformedPCM, got %v", err)
	}
	if _, err := Inspect(bytes.NewReader(wav)); !errors.Is(err, ErrMalformedPCM) {
		t.Fatalf("Inspect: expected ErrMalformedPCM, got %v", err)
	}
}
