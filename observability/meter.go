package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/stagekit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string        `yaml:"service_name" mapstructure:"service_name"`
	ServiceVersion string        `yaml:"service_version" mapstructure:"service_version"`
	Environment    string        `yaml:"environment" mapstructure:"environment"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
}

// DefaultMeterConfig returns defaults for local development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the global meter provider. The caller shuts it down
// on exit.
func InitMeter(ctx context.Context, config MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// StageMetrics holds the instruments recorded by pipeline stages.
// A nil *StageMetrics records nothing.
type StageMetrics struct {
	received    metric.Int64Counter
	emitted     metric.Int64Counter
	inflight    metric.Int64UpDownCounter
	duration    metric.Float64Histogram
	failures    metric.Int64Counter
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewStageMetrics creates the stage instruments on the given meter.
func NewStageMetrics(meter metric.Meter) (*StageMetrics, error) {
	var (
		m   StageMetrics
		err error
	)

	if m.received, err = meter.Int64Counter("stage.items.received",
		metric.WithDescription("Items taken from a stage's input channel"),
	); err != nil {
		return nil, fmt.Errorf("creating stage.items.received counter: %w", err)
	}
	if m.emitted, err = meter.Int64Counter("stage.items.emitted",
		metric.WithDescription("Items delivered to a stage's output channel"),
	); err != nil {
		return nil, fmt.Errorf("creating stage.items.emitted counter: %w", err)
	}
	if m.inflight, err = meter.Int64UpDownCounter("stage.inflight",
		metric.WithDescription("Transformations currently running in a stage"),
	); err != nil {
		return nil, fmt.Errorf("creating stage.inflight gauge: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("stage.transform.duration",
		metric.WithDescription("Duration of one transformation in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating stage.transform.duration histogram: %w", err)
	}
	if m.failures, err = meter.Int64Counter("stage.failures",
		metric.WithDescription("Stages that settled as failed, by error code"),
	); err != nil {
		return nil, fmt.Errorf("creating stage.failures counter: %w", err)
	}
	if m.runs, err = meter.Int64Counter("pipeline.runs",
		metric.WithDescription("Pipeline runs by final status"),
	); err != nil {
		return nil, fmt.Errorf("creating pipeline.runs counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("pipeline.run.duration",
		metric.WithDescription("Duration of a pipeline run in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating pipeline.run.duration histogram: %w", err)
	}

	return &m, nil
}

// Stage returns a recorder bound to one stage of a pipeline.
func (m *StageMetrics) Stage(pipeline, stage string) *StageRecorder {
	if m == nil {
		return nil
	}
	return &StageRecorder{
		m: m,
		attrs: metric.WithAttributeSet(attribute.NewSet(
			attribute.String(AttrPipeline, pipeline),
			attribute.String(AttrStage, stage),
		)),
	}
}

// RunFinished records the end of a pipeline run.
func (m *StageMetrics) RunFinished(ctx context.Context, pipeline, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrPipeline, pipeline),
		attribute.String(AttrStatus, status),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// StageRecorder records measurements for a single stage.
// A nil *StageRecorder records nothing.
type StageRecorder struct {
	m     *StageMetrics
	attrs metric.MeasurementOption
}

func (r *StageRecorder) Received(ctx context.Context) {
	if r != nil {
		r.m.received.Add(ctx, 1, r.attrs)
	}
}

func (r *StageRecorder) Emitted(ctx context.Context) {
	if r != nil {
		r.m.emitted.Add(ctx, 1, r.attrs)
	}
}

// Started marks one transformation as in flight.
func (r *StageRecorder) Started(ctx context.Context) {
	if r != nil {
		r.m.inflight.Add(ctx, 1, r.attrs)
	}
}

// Finished marks one transformation as done and records its duration.
func (r *StageRecorder) Finished(ctx context.Context, d time.Duration) {
	if r != nil {
		r.m.inflight.Add(ctx, -1, r.attrs)
		r.m.duration.Record(ctx, d.Seconds(), r.attrs)
	}
}

// Failed records a stage settling as failed with the given error code.
func (r *StageRecorder) Failed(ctx context.Context, code string) {
	if r != nil {
		r.m.failures.Add(ctx, 1, r.attrs, metric.WithAttributes(attribute.String(AttrErrorCode, code)))
	}
}
