// Package telemetry provides tracing, metrics and logging for the journal's
// subsystems.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const pkg = "github.com/dogmatiq/cassandrakit/"

// Provider provides Recorder instances scoped to particular subsystems.
//
// The zero value of a *Provider is equivalent to a provider configured with
// no-op tracer and meter providers and a logger that discards all records.
type Provider struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Logger         *slog.Logger
	Attrs          []attribute.KeyValue
}

// Recorder returns a new Recorder for the named subsystem.
func (p *Provider) Recorder(subsystem string, attrs ...attribute.KeyValue) *Recorder {
	var (
		tracerProvider trace.TracerProvider
		meterProvider  metric.MeterProvider
		logger         *slog.Logger
	)

	if p != nil {
		tracerProvider = p.TracerProvider
		meterProvider = p.MeterProvider
		logger = p.Logger
		attrs = append(append([]attribute.KeyValue{}, p.Attrs...), attrs...)
	}

	if tracerProvider == nil {
		tracerProvider = nooptrace.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = noopmetric.NewMeterProvider()
	}
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	name := pkg + subsystem
	meter := meterProvider.Meter(name)

	r := &Recorder{
		tracer: tracerProvider.Tracer(name),
		logger: logger.With(slog.String("subsystem", subsystem)),
		attrs:  attrs,
	}

	r.operations, _ = meter.Int64Counter(
		"cassandrakit."+subsystem+".operations",
		metric.WithDescription("The number of operations performed by the subsystem."),
	)
	r.errors, _ = meter.Int64Counter(
		"cassandrakit."+subsystem+".errors",
		metric.WithDescription("The number of operations that failed."),
	)

	return r
}

// Recorder records traces, metrics and logs for a particular subsystem.
type Recorder struct {
	tracer trace.Tracer
	logger *slog.Logger
	attrs  []attribute.KeyValue

	operations metric.Int64Counter
	errors     metric.Int64Counter
}

// Logger returns the recorder's logger.
func (r *Recorder) Logger() *slog.Logger {
	if r == nil {
		return slog.New(discardHandler{})
	}
	return r.logger
}

// Error records a failed operation outside of any span.
func (r *Recorder) Error(ctx context.Context, err error) {
	if r == nil {
		return
	}
	r.errors.Add(ctx, 1, metric.WithAttributes(r.attrs...))
}

// StartSpan starts a span representing one operation of the subsystem.
func (r *Recorder) StartSpan(
	ctx context.Context,
	name string,
	attrs ...attribute.KeyValue,
) (context.Context, *Span) {
	if r == nil {
		return ctx, nil
	}

	attrs = append(append([]attribute.KeyValue{}, r.attrs...), attrs...)

	ctx, span := r.tracer.Start(
		ctx,
		name,
		trace.WithAttributes(attrs...),
	)

	r.operations.Add(ctx, 1, metric.WithAttributes(attrs...))

	return ctx, &Span{
		recorder: r,
		span:     span,
		logger: r.logger.With(
			slog.String("span_name", name),
		),
	}
}

// Span represents a single named and timed operation.
type Span struct {
	recorder *Recorder
	span     trace.Span
	logger   *slog.Logger
}

// End completes the span.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.span.End()
}

// Error records err on the span, marks it as failed, and increments the
// subsystem's error counter.
func (s *Span) Error(ctx context.Context, err error) {
	if s == nil || err == nil {
		return
	}

	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.recorder.errors.Add(ctx, 1, metric.WithAttributes(s.recorder.attrs...))
}

// Logger returns a logger scoped to the span.
func (s *Span) Logger() *slog.Logger {
	if s == nil {
		return slog.New(discardHandler{})
	}
	return s.logger
}

// discardHandler is a slog.Handler that discards all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
