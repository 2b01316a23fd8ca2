// Package telemetry bridges logrus.Fields-tagged log entries into otel
// spans and metrics. It is the logrus-Hook re-expression of the teacher's
// slog.Handler-based telemetry bridge: one hop start/event/end sequence
// becomes an otel span, one metric-shaped entry becomes a counter or
// histogram recording, and everything else passes through untouched.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sidecar-radar/pipeline/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type recorder func(ctx context.Context, val attribute.KeyValue, option metric.MeasurementOption)

var providerMap = map[string]func(m metric.Meter) func(name string) (recorder, error){
	common.MetricFloat64Counter: func(m metric.Meter) func(string) (recorder, error) {
		return func(name string) (recorder, error) {
			x, err := m.Float64Counter(name)
			return func(ctx context.Context, val attribute.KeyValue, opt metric.MeasurementOption) {
				x.Add(ctx, val.Value.AsFloat64(), opt)
			}, err
		}
	},
	common.MetricInt64Counter: func(m metric.Meter) func(string) (recorder, error) {
		return func(name string) (recorder, error) {
			x, err := m.Int64Counter(name)
			return func(ctx context.Context, val attribute.KeyValue, opt metric.MeasurementOption) {
				x.Add(ctx, val.Value.AsInt64(), opt)
			}, err
		}
	},
	common.MetricFloat64Histogram: func(m metric.Meter) func(string) (recorder, error) {
		return func(name string) (recorder, error) {
			x, err := m.Float64Histogram(name)
			return func(ctx context.Context, val attribute.KeyValue, opt metric.MeasurementOption) {
				x.Record(ctx, val.Value.AsFloat64(), opt)
			}, err
		}
	},
	common.MetricInt64Histogram: func(m metric.Meter) func(string) (recorder, error) {
		return func(name string) (recorder, error) {
			x, err := m.Int64Histogram(name)
			return func(ctx context.Context, val attribute.KeyValue, opt metric.MeasurementOption) {
				x.Record(ctx, val.Value.AsInt64(), opt)
			}, err
		}
	},
}

// Hook is a logrus.Hook that turns "type"-tagged entries into otel spans
// and metric recordings, optionally also tee-ing them to the normal log
// output.
type Hook struct {
	meter    metric.Meter
	tracer   trace.Tracer
	teeToLog bool

	m       sync.Mutex
	metrics map[string]recorder
	attrs   []attribute.KeyValue
}

// New builds a Hook recording spans via tracer and metrics via meter.
func New(meter metric.Meter, tracer trace.Tracer, teeToLog bool, attrs ...attribute.KeyValue) *Hook {
	return &Hook{
		meter:    meter,
		tracer:   tracer,
		teeToLog: teeToLog,
		metrics:  map[string]recorder{},
		attrs:    attrs,
	}
}

// Levels implements logrus.Hook: the telemetry hook only fires on Trace,
// which is where SpanStart/SpanEvent/SpanEnd/Float64Counter/... log.
func (h *Hook) Levels() []logrus.Level { return []logrus.Level{logrus.TraceLevel} }

// Fire implements logrus.Hook.
func (h *Hook) Fire(entry *logrus.Entry) error {
	defer recov()

	kind, _ := entry.Data["type"].(string)
	switch {
	case kind == common.TraceStart || kind == common.TraceEvent || kind == common.TraceEnd:
		return h.fireTrace(entry, kind)
	case kind != "":
		if _, ok := providerMap[kind]; ok {
			return h.fireMetric(entry, kind)
		}
	}
	return nil
}

func recov() {
	if r := recover(); r != nil {
		fmt.Println("telemetry: recovered panic in hook:", r)
	}
}

func (h *Hook) fireTrace(entry *logrus.Entry, kind string) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	sphldr, ok := common.Get(ctx)
	if !ok {
		if kind != common.TraceStart {
			return fmt.Errorf("telemetry: span holder not found in context for %s", kind)
		}
		m := map[string]any{}
		sphldr = &m
	}

	attrs := append(append([]attribute.KeyValue{}, h.attrs...), entryAttrs(entry)...)

	switch kind {
	case common.TraceStart:
		spanCtx, span := h.tracer.Start(ctx, entry.Message,
			trace.WithTimestamp(entry.Time),
			trace.WithAttributes(attrs...))
		(*sphldr)["ctx"] = spanCtx
		(*sphldr)["span"] = span
	case common.TraceEvent:
		span, ok := (*sphldr)["span"].(trace.Span)
		if !ok {
			return fmt.Errorf("telemetry: no active span for event %s", entry.Message)
		}
		span.AddEvent(entry.Message, trace.WithTimestamp(entry.Time), trace.WithAttributes(attrs...))
	case common.TraceEnd:
		span, ok := (*sphldr)["span"].(trace.Span)
		if !ok {
			return fmt.Errorf("telemetry: no active span to end %s", entry.Message)
		}
		span.End(trace.WithTimestamp(entry.Time))
		delete(*sphldr, "ctx")
		delete(*sphldr, "span")
	}

	return nil
}

func (h *Hook) fireMetric(entry *logrus.Entry, kind string) error {
	value, ok := entry.Data["value"]
	if !ok {
		return fmt.Errorf("telemetry: metric entry %q missing value field", entry.Message)
	}

	rr, err := h.getRecorder(entry.Message, providerMap[kind])
	if err != nil {
		return err
	}

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := metric.WithAttributes(append(append([]attribute.KeyValue{}, h.attrs...), entryAttrs(entry)...)...)
	rr(ctx, toAttr("value", value), attrs)
	return nil
}

func (h *Hook) getRecorder(name string, provider func(metric.Meter) func(string) (recorder, error)) (recorder, error) {
	h.m.Lock()
	defer h.m.Unlock()
	if rr, ok := h.metrics[name]; ok {
		return rr, nil
	}
	rr, err := provider(h.meter)(name)
	if err == nil {
		h.metrics[name] = rr
	}
	return rr, err
}

func entryAttrs(entry *logrus.Entry) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(entry.Data))
	for k, v := range entry.Data {
		if k == "type" || k == "value" {
			continue
		}
		attrs = append(attrs, toAttr(k, v))
	}
	return attrs
}

func toAttr(key string, v any) attribute.KeyValue {
	switch t := v.(type) {
	case string:
		return attribute.String(key, t)
	case bool:
		return attribute.Bool(key, t)
	case int:
		return attribute.Int64(key, int64(t))
	case int64:
		return attribute.Int64(key, t)
	case float64:
		return attribute.Float64(key, t)
	case time.Time:
		return attribute.String(key, t.Format(time.RFC3339Nano))
	default:
		return attribute.String(key, fmt.Sprintf("%v", t))
	}
}

// SpanStart begins a traced operation, returning a context the caller
// must thread through SpanEvent/SpanEnd and downstream work.
func SpanStart(ctx context.Context, log *logrus.Logger, name string, fields logrus.Fields) context.Context {
	holder := map[string]any{}
	c := common.Store(ctx, &holder)
	entry := log.WithContext(c).WithFields(fields)
	entry.Data["type"] = common.TraceStart
	entry.Log(logrus.TraceLevel, name)
	return c
}

// SpanEvent records an event on the span started by SpanStart against ctx.
func SpanEvent(ctx context.Context, log *logrus.Logger, name string, fields logrus.Fields) {
	entry := log.WithContext(ctx).WithFields(fields)
	entry.Data["type"] = common.TraceEvent
	entry.Log(logrus.TraceLevel, name)
}

// SpanEnd ends the span started by SpanStart against ctx.
func SpanEnd(ctx context.Context, log *logrus.Logger, name string, fields logrus.Fields) {
	entry := log.WithContext(ctx).WithFields(fields)
	entry.Data["type"] = common.TraceEnd
	entry.Log(logrus.TraceLevel, name)
}
