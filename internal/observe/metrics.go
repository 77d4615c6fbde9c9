// Package observe holds the OpenTelemetry instruments of the voice engine
// and the Prometheus bridge the daemon exposes on /metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without observability in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "aegis/voice"

// Metrics holds every instrument. The OTel types synchronise themselves.
type Metrics struct {
	Events            metric.Int64Counter
	FramesDropped     metric.Int64Counter
	Utterances        metric.Int64Counter
	SynthesisDuration metric.Float64Histogram
	CommandDuration   metric.Float64Histogram
	QueueDepth        metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Events, err = m.Int64Counter("aegis.events",
		metric.WithDescription("Command events emitted by kind."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("aegis.frames.dropped",
		metric.WithDescription("Audio frames discarded by the drop-oldest frame queue."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("aegis.speech.utterances",
		metric.WithDescription("Speech requests processed by status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("aegis.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("aegis.stt.command.duration",
		metric.WithDescription("Latency of the command transcription pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("aegis.speech.queue_depth",
		metric.WithDescription("Speech requests waiting for the synthesis worker."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Event counts one emitted command event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.Events.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// FrameDropped counts one discarded frame.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Add(context.Background(), 1)
}

// Spoken counts one finished speech request; status is ok, synthesis_error,
// playback_error or discarded.
func (m *Metrics) Spoken(status string) {
	if m == nil {
		return
	}
	m.Utterances.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// Queued tracks speech queue depth.
func (m *Metrics) Queued(delta int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(context.Background(), delta)
}

// SynthesisTook records synthesis latency.
func (m *Metrics) SynthesisTook(d time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisDuration.Record(context.Background(), d.Seconds())
}

// CommandTook records command transcription latency.
func (m *Metrics) CommandTook(d time.Duration) {
	if m == nil {
		return
	}
	m.CommandDuration.Record(context.Background(), d.Seconds())
}
