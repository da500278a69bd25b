package tts

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics records per-session observations. Instruments come
// from the global meter provider; without one installed they no-op.
type engineMetrics struct {
	ttfb     metric.Float64Histogram
	frames   metric.Int64Counter
	bytes    metric.Int64Counter
	failures metric.Int64Counter
	active   metric.Int64UpDownCounter
}

func newEngineMetrics(log *slog.Logger) *engineMetrics {
	meter := otel.Meter("github.com/ambiware-labs/voxa/internal/tts")
	m := &engineMetrics{}
	var err error
	if m.ttfb, err = meter.Float64Histogram("voxa.tts.ttfb",
		metric.WithDescription("Time from request to first audio byte"),
		metric.WithUnit("ms")); err != nil {
		log.Warn("failed to create ttfb histogram", slog.String("error", err.Error()))
	}
	if m.frames, err = meter.Int64Counter("voxa.tts.frames",
		metric.WithDescription("Audio frames emitted")); err != nil {
		log.Warn("failed to create frames counter", slog.String("error", err.Error()))
	}
	if m.bytes, err = meter.Int64Counter("voxa.tts.bytes",
		metric.WithDescription("Audio bytes emitted"),
		metric.WithUnit("By")); err != nil {
		log.Warn("failed to create bytes counter", slog.String("error", err.Error()))
	}
	if m.failures, err = meter.Int64Counter("voxa.tts.failures",
		metric.WithDescription("Synthesis failures by class")); err != nil {
		log.Warn("failed to create failures counter", slog.String("error", err.Error()))
	}
	if m.active, err = meter.Int64UpDownCounter("voxa.tts.active_sessions",
		metric.WithDescription("Sessions currently streaming")); err != nil {
		log.Warn("failed to create active sessions counter", slog.String("error", err.Error()))
	}
	return m
}

func (m *engineMetrics) sessionStarted(ctx context.Context) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Add(ctx, 1)
}

func (m *engineMetrics) sessionEnded(ctx context.Context) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Add(ctx, -1)
}

func (m *engineMetrics) observeTTFB(ctx context.Context, d time.Duration, voice string) {
	if m == nil || m.ttfb == nil {
		return
	}
	m.ttfb.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("voice", voice)))
}

func (m *engineMetrics) observeFrames(ctx context.Context, frames, bytes int) {
	if m == nil {
		return
	}
	if m.frames != nil {
		m.frames.Add(ctx, int64(frames))
	}
	if m.bytes != nil {
		m.bytes.Add(ctx, int64(bytes))
	}
}

func (m *engineMetrics) observeFailure(ctx context.Context, err error) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", ErrorClass(err))))
}
