package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SineTone renders a mono 16-bit little-endian sine wave. amplitude is a
// fraction of full scale.
func SineTone(frequency float64, sampleRate int, d time.Duration, amplitude float64) []byte {
	if sampleRate <= 0 || d <= 0 {
		return nil
	}
	frames := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, frames*BytesPerSample)
	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		v := int16(amplitude * 32767.0 * math.Sin(2*math.Pi*frequency*t))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
