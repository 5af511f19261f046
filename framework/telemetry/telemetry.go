package telemetry

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/config"
	"github.com/nasqa/uut-harness/framework/results"
)

const tracerName = "github.com/nasqa/uut-harness"

// Telemetry exports run, test and iteration spans. A nil or disabled
// Telemetry does nothing.
type Telemetry struct {
	tracer trace.Tracer
}

// Init configures an OTLP/gRPC trace exporter when cfg.OTelEndpoint is set.
// The returned shutdown flushes pending spans.
func Init(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Telemetry, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if strings.TrimSpace(cfg.OTelEndpoint) == "" {
		return &Telemetry{}, noop, nil
	}

	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTelEndpoint)}
	if cfg.OTelInsecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	if headers := ParseKeyValueList(cfg.OTelHeaders); len(headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(headers))
	}
	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create otlp trace exporter")
	}

	res, err := resource.New(ctx, resource.WithFromEnv(), resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, nil, errors.Wrap(err, "build otel resource")
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	logger.Info("otel enabled", zap.String("endpoint", cfg.OTelEndpoint))
	return New(provider), provider.Shutdown, nil
}

// New returns a Telemetry recording to provider.
func New(provider trace.TracerProvider) *Telemetry {
	return &Telemetry{tracer: provider.Tracer(tracerName)}
}

// Enabled reports whether spans are recorded.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.tracer != nil
}

// StartSpan starts a span with string attributes. The span is nil when
// telemetry is disabled.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, trace.Span) {
	if !t.Enabled() {
		return ctx, nil
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))
}

// EndSpan sets the span status from status, records err and ends the span.
func (t *Telemetry) EndSpan(span trace.Span, status results.Status, err error, attrs map[string]string) {
	if !t.Enabled() || span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(toAttributes(attrs)...)
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status.IsFailure():
		span.SetStatus(codes.Error, string(status))
	default:
		span.SetStatus(codes.Ok, string(status))
	}
	span.End()
}

// FlushIteration records a finished iteration as a span under the test
// span carried by ctx, with one event per step.
func (t *Telemetry) FlushIteration(ctx context.Context, test *results.TestResult, iteration results.IterationResult) error {
	if !t.Enabled() {
		return nil
	}
	_, span := t.tracer.Start(ctx, "uut.iteration",
		trace.WithTimestamp(iteration.StartTime),
		trace.WithAttributes(
			attribute.String("uut.test", test.Name),
			attribute.Int("uut.iteration", iteration.Iteration),
			attribute.String("uut.outcome", string(iteration.Outcome.Kind)),
		))
	for _, step := range iteration.Steps {
		attrs := []attribute.KeyValue{
			attribute.Int("uut.step.index", step.Index),
			attribute.String("uut.step.status", string(step.Status)),
		}
		if step.Error != "" {
			attrs = append(attrs, attribute.String("uut.step.error", step.Error))
		}
		span.AddEvent(step.Description, trace.WithTimestamp(step.EndTime), trace.WithAttributes(attrs...))
	}
	if iteration.Outcome.Kind.IsFailure() {
		span.SetStatus(codes.Error, iteration.Outcome.Reason)
	} else {
		span.SetStatus(codes.Ok, string(iteration.Outcome.Kind))
	}
	span.End(trace.WithTimestamp(iteration.EndTime))
	return nil
}

func resourceAttributes(cfg *config.Config) []attribute.KeyValue {
	service := strings.TrimSpace(cfg.OTelServiceName)
	if service == "" {
		service = "uut-harness"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(service),
		attribute.String("uut.run_id", cfg.RunID),
		attribute.String("uut.platform", cfg.Platform),
		attribute.String("uut.cloud_env", cfg.CloudEnv),
	}
	for key, value := range ParseKeyValueList(cfg.OTelResourceAttrs) {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

// ParseKeyValueList parses "k1=v1,k2=v2", ignoring malformed entries.
func ParseKeyValueList(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(val)
	}
	return out
}

// Attrs formats values as span attributes, dropping empty ones.
func Attrs(kv ...string) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			out[kv[i]] = kv[i+1]
		}
	}
	return out
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}
	return kvs
}
