package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/devmaster/internal/audio"
)

func TestToneThenInspect(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tone.wav")
	if err := runTone(out, 440, time.Second, 24000); err != nil {
		t.Fatalf("tone: %v", err)
	}
	var buf bytes.Buffer
	if err := runInspect(&buf, out); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"sample_rate=24000", "channels=1", "bit_depth=16", "frames=24000", "duration=1s"} {
		if !strings.Contains(got, want) {
			t.Fatalf("inspect output %q missing %q", got, want)
		}
	}
}

func TestWrapKeepsPayload(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "speech.pcm")
	out := filepath.Join(dir, "speech.wav")
	pcm := audio.SineTone(220, 16000, 250*time.Millisecond, 0.3)
	if err := os.WriteFile(in, pcm, 0o644); err != nil {
		t.Fatalf("write pcm: %v", err)
	}
	if err := runWrap(in, out, 16000, 1); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(data) != audio.HeaderSize+len(pcm) || !bytes.Equal(data[audio.HeaderSize:], pcm) {
		t.Fatal("expected payload copied after a 44-byte header")
	}
	header := audio.Header(uint32(len(pcm)), 16000, 1)
	if !bytes.Equal(data[:audio.HeaderSize], header[:]) {
		t.Fatal("expected the canonical 44-byte header")
	}
	if err := runWrap("", out, 16000, 1); err == nil {
		t.Fatal("expected missing input to fail")
	}
}

func TestWrapRejectsPartialFrame(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "odd.pcm")
	if err := os.WriteFile(in, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write pcm: %v", err)
	}
	err := runWrap(in, filepath.Join(dir, "odd.wav"), 24000, 1)
	if !errors.Is(err, audio.ErrMalformedPCM) {
		t.Fatalf("expected ErrMalformedPCM, got %v", err)
	}
}
