// Package metrics records detection pipeline metrics through the
// OpenTelemetry Metrics API.
//
// [NewProvider] installs a MeterProvider backed by a Prometheus exporter
// and returns the /metrics handler. Tests build [Metrics] directly on a
// ManualReader. A nil *Metrics is valid and records nothing, so callers
// never need to check whether metrics are enabled.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/haivivi/wakeword"

// Metrics holds the instruments.
type Metrics struct {
	FramesCaptured   metric.Int64Counter
	FramesDropped    metric.Int64Counter
	AudioTimeouts    metric.Int64Counter
	WakeEvents       metric.Int64Counter
	Commands         metric.Int64Counter // attribute "reason"
	GatewayRequests  metric.Int64Counter // attribute "status"
	ScoreLatency     metric.Float64Histogram
	GatewayLatency   metric.Float64Histogram
	Scores           metric.Float64Histogram
	CommandDurations metric.Float64Histogram
}

// latencyBuckets are in seconds. Scoring is expected in the low
// milliseconds and transcription in seconds.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

var scoreBuckets = []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 0.98, 0.99, 0.999}

var durationBuckets = []float64{0.5, 1, 2, 3, 5, 7, 10, 15, 30}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("wakeword.frames.captured",
		metric.WithDescription("Audio frames delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("wakeword.frames.dropped",
		metric.WithDescription("Frames evicted from the full frame queue."),
	); err != nil {
		return nil, err
	}
	if met.AudioTimeouts, err = m.Int64Counter("wakeword.audio.timeouts",
		metric.WithDescription("Capture stalls longer than twice the frame duration."),
	); err != nil {
		return nil, err
	}
	if met.WakeEvents, err = m.Int64Counter("wakeword.wake.events",
		metric.WithDescription("Wake events emitted by the trigger."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("wakeword.commands",
		metric.WithDescription("Finalized commands by reason."),
	); err != nil {
		return nil, err
	}
	if met.GatewayRequests, err = m.Int64Counter("wakeword.gateway.requests",
		metric.WithDescription("Transcription requests by status."),
	); err != nil {
		return nil, err
	}
	if met.ScoreLatency, err = m.Float64Histogram("wakeword.score.duration",
		metric.WithDescription("Latency of resample, feature extraction and scoring for one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GatewayLatency, err = m.Float64Histogram("wakeword.gateway.duration",
		metric.WithDescription("Latency of transcription requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Scores, err = m.Float64Histogram("wakeword.score",
		metric.WithDescription("Detection scores."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDurations, err = m.Float64Histogram("wakeword.command.duration",
		metric.WithDescription("Recorded command length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// FrameCaptured counts one captured frame.
func (m *Metrics) FrameCaptured(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesCaptured.Add(ctx, 1)
}

// FrameDropped counts one evicted frame.
func (m *Metrics) FrameDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1)
}

// AudioTimeout counts one capture stall.
func (m *Metrics) AudioTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.AudioTimeouts.Add(ctx, 1)
}

// Scored records a detection score and the time taken to produce it.
func (m *Metrics) Scored(ctx context.Context, score float64, took time.Duration) {
	if m == nil {
		return
	}
	m.Scores.Record(ctx, score)
	m.ScoreLatency.Record(ctx, took.Seconds())
}

// Wake counts one wake event.
func (m *Metrics) Wake(ctx context.Context) {
	if m == nil {
		return
	}
	m.WakeEvents.Add(ctx, 1)
}

// Command counts one finalized command.
func (m *Metrics) Command(ctx context.Context, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.CommandDurations.Record(ctx, d.Seconds())
}

// Gateway records one transcription request.
func (m *Metrics) Gateway(ctx context.Context, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.GatewayRequests.Add(ctx, 1, attrs)
	m.GatewayLatency.Record(ctx, took.Seconds(), attrs)
}
