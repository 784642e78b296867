package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger wraps goa.design/clue/log for runtime logging. Every
	// call is tagged with the component that owns it (e.g. "breaker",
	// "scheduler") so a single process's interleaved logs from several
	// cooperating components (oracle adapter, circuit breaker,
	// fallback, scheduler) can be told apart without parsing the
	// message text.
	ClueLogger struct {
		component string
	}

	// ClueMetrics wraps OTEL metrics for runtime instrumentation. Metric
	// names are namespaced by component, so the same metric name (e.g.
	// "latency") recorded by two different components never collides
	// in a shared backend.
	ClueMetrics struct {
		meter     metric.Meter
		component string
	}

	// ClueTracer wraps OTEL tracing for runtime tracing, scoped to one
	// component's instrumentation name.
	ClueTracer struct {
		tracer trace.Tracer
	}

	// clueSpan wraps an OTEL trace span.
	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log,
// tagging every record with component. The logger reads formatting and
// debug settings from the context (set via log.Context and
// log.WithFormat/log.WithDebug).
func NewClueLogger(component string) Logger {
	return ClueLogger{component: component}
}

// NewClueMetrics constructs a Metrics recorder that delegates to OTEL
// metrics, namespacing every metric name under component. Uses the global
// MeterProvider; configure it via otel.SetMeterProvider before invoking
// runtime methods (typically done via clue.ConfigureOpenTelemetry).
func NewClueMetrics(component string) Metrics {
	meter := otel.Meter("forge.dev/forge/" + component)
	return &ClueMetrics{meter: meter, component: component}
}

// NewClueTracer constructs a Tracer that delegates to OTEL tracing, scoped
// to component's own instrumentation name. Uses the global TracerProvider;
// configure it via otel.SetTracerProvider before invoking runtime methods
// (typically done via clue.ConfigureOpenTelemetry or environment variables
// like OTEL_EXPORTER_OTLP_ENDPOINT).
func NewClueTracer(component string) Tracer {
	tracer := otel.Tracer("forge.dev/forge/" + component)
	return &ClueTracer{tracer: tracer}
}

// Debug emits a debug-level log message with structured key-value pairs.
func (c ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, c.fielders(msg, keyvals)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (c ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, c.fielders(msg, keyvals)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (c ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := c.fielders(msg, keyvals)
	fielders = append(fielders, log.KV{K: "severity", V: "warning"})
	log.Warn(ctx, fielders...)
}

// Error emits an error-level log message with structured key-value pairs.
func (c ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, c.fielders(msg, keyvals)...)
}

// fielders builds the common "msg" + "component" + caller-supplied
// key-values shared by every level above.
func (c ClueLogger) fielders(msg string, keyvals []any) []log.Fielder {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}}
	if c.component != "" {
		fielders = append(fielders, log.KV{K: "component", V: c.component})
	}
	return append(fielders, kvSliceToClue(keyvals)...)
}

// IncCounter increments a counter metric, namespaced under this
// recorder's component, by the given value.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(m.namespaced(name))
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration histogram/timer metric, namespaced under
// this recorder's component.
func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(m.namespaced(name))
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a gauge metric value, namespaced under this
// recorder's component. OTEL has no synchronous gauge instrument, so this
// falls back to a histogram carrying the instantaneous value.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(m.namespaced(name) + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// namespaced prefixes a metric name with this recorder's component so
// metrics from different forge components never collide under one name.
func (m *ClueMetrics) namespaced(name string) string {
	if m.component == "" {
		return name
	}
	return m.component + "." + name
}

// Start creates a new span with the given name and optional attributes, returning
// a new context and the span handle.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

// Span retrieves the current span from the context.
func (t *ClueTracer) Span(ctx context.Context) Span {
	span := trace.SpanFromContext(ctx)
	return &clueSpan{span: span}
}

// End finalizes the span, optionally applying additional options.
func (s *clueSpan) End(opts ...trace.SpanEndOption) {
	s.span.End(opts...)
}

// AddEvent records a span event with the given name and attributes.
func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvSliceToAttrs(attrs)...))
}

// SetStatus sets the span status code and description.
func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// RecordError records an error on the span with optional attributes.
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// kvSliceToClue converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// Clue's log.Fielder slice. If the slice has an odd length, the last key is paired
// with nil. Pairs whose key is not a string are skipped.
func kvSliceToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		// Convert key to string
		keyStr, ok := k.(string)
		if !ok {
			continue // Skip non-string keys
		}
		fielders = append(fielders, log.KV{K: keyStr, V: v})
	}
	return fielders
}

// tagsToAttrs converts tag strings (k1, v1, k2, v2, ...) into OTEL attributes
// for metrics dimensions. If the slice has an odd length, the last key is paired
// with an empty string.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// kvSliceToAttrs converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// OTEL attributes for span events. If the slice has an odd length, the last key
// is paired with nil (converted to empty string).
func kvSliceToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		// Convert key to string
		keyStr, ok := k.(string)
		if !ok {
			keyStr = ""
		}
		// Convert value based on type
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			// Fallback: any other type is recorded as an empty string
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
