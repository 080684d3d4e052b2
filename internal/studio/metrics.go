package studio

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	contentRequests metric.Int64Counter
	voiceRequests   metric.Int64Counter
	fallbacks       metric.Int64Counter
	staleDiscards   metric.Int64Counter
	exports         metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter
	audioDuration   metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/loqalabs/devmaster/internal/studio")
	fallback := noop.NewMeterProvider().Meter("studio")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	active, err := meter.Int64UpDownCounter("studio.sessions.active", metric.WithDescription("Open studio sessions"))
	if err != nil {
		active, _ = fallback.Int64UpDownCounter("studio.sessions.active")
	}
	audio, err := meter.Float64Histogram("studio.voice.audio_duration",
		metric.WithDescription("Length of synthesized voice buffers"), metric.WithUnit("s"))
	if err != nil {
		audio, _ = fallback.Float64Histogram("studio.voice.audio_duration")
	}
	return &metrics{
		contentRequests: counter("studio.content.requests", "Content generation requests"),
		voiceRequests:   counter("studio.voice.requests", "Voice generation requests"),
		fallbacks:       counter("studio.content.fallbacks", "Content requests answered with a fallback message"),
		staleDiscards:   counter("studio.responses.stale", "Responses discarded because a newer request superseded them"),
		exports:         counter("studio.exports", "WAV exports served"),
		activeSessions:  active,
		audioDuration:   audio,
	}
}

func (m *metrics) add(c metric.Int64Counter, kind string) {
	c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) voiceReady(voice string, d time.Duration) {
	m.audioDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(attribute.String("voice", voice)))
}
