package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/devmaster/internal/audio"
)

var version = "0.1.0-dev"

func main() {
	var (
		inspectPath string
		wrapIn      string
		wrapOut     string
		wrapRate    int
		wrapChans   int
		toneOut     string
		toneFreq    float64
		toneLength  time.Duration
		toneRate    int
	)
	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)
	inspectCmd.StringVar(&inspectPath, "file", "", "Path to a WAV file")

	wrapCmd := flag.NewFlagSet("wrap", flag.ExitOnError)
	wrapCmd.StringVar(&wrapIn, "in", "", "Raw 16-bit little-endian PCM input")
	wrapCmd.StringVar(&wrapOut, "out", "", "WAV output path")
	wrapCmd.IntVar(&wrapRate, "rate", 24000, "Sample rate of the input")
	wrapCmd.IntVar(&wrapChans, "channels", 1, "Channel count of the input")

	toneCmd := flag.NewFlagSet("tone", flag.ExitOnError)
	toneCmd.StringVar(&toneOut, "out", "tone.wav", "WAV output path")
	toneCmd.Float64Var(&toneFreq, "freq", 440, "Tone frequency in Hz")
	toneCmd.DurationVar(&toneLength, "duration", time.Second, "Tone length")
	toneCmd.IntVar(&toneRate, "rate", 24000, "Sample rate")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'inspect', 'wrap', 'tone' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "inspect":
		inspectCmd.Parse(os.Args[2:])
		err = runInspect(os.Stdout, inspectPath)
	case "wrap":
		wrapCmd.Parse(os.Args[2:])
		err = runWrap(wrapIn, wrapOut, wrapRate, wrapChans)
		if err == nil {
			fmt.Printf("wrote %s\n", wrapOut)
		}
	case "tone":
		toneCmd.Parse(os.Args[2:])
		err = runTone(toneOut, toneFreq, toneLength, toneRate)
		if err == nil {
			fmt.Printf("wrote %s\n", toneOut)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInspect(w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("-file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := audio.Inspect(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "sample_rate=%d channels=%d bit_depth=%d frames=%d duration=%s\n",
		info.SampleRate, info.Channels, info.BitDepth, info.Frames, info.Duration)
	return nil
}

func runWrap(in, out string, sampleRate, channels int) error {
	if in == "" || out == "" {
		return fmt.Errorf("-in and -out are required")
	}
	pcm, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if err := writeWAVFile(out, pcm, sampleRate, channels); err != nil {
		return fmt.Errorf("wrap %s: %w", in, err)
	}
	return nil
}

func runTone(out string, freq float64, d time.Duration, sampleRate int) error {
	return writeWAVFile(out, audio.SineTone(freq, sampleRate, d, 0.5), sampleRate, 1)
}

// writeWAVFile encodes raw 16-bit little-endian PCM into a WAV file at path.
func writeWAVFile(path string, pcm []byte, sampleRate, channels int) (err error) {
	if sampleRate <= 0 || channels <= 0 {
		return audio.ErrInvalidFormat
	}
	frameSize := audio.BytesPerSample * channels
	if len(pcm) == 0 {
		return audio.ErrEmptyPCM
	}
	if len(pcm)%frameSize != 0 {
		return fmt.Errorf("%w: %d bytes, %d trailing", audio.ErrMalformedPCM, len(pcm), len(pcm)%frameSize)
	}
	samples := make([]int, len(pcm)/audio.BytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
