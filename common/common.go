// Package common holds the small pieces of context-carrying plumbing
// shared by telemetry, the runner and the stream builder: span-holder
// storage for the telemetry hook, and logrus field keys used consistently
// across Task/Stream/Controller logging so log lines from every component
// can be correlated by stream and task.
package common

import "context"

// Field names used consistently in logrus.Fields across the codebase so
// log aggregation can filter/group by them.
const (
	FieldStreamID = "stream_id"
	FieldTaskID   = "task_id"
	FieldTaskType = "task_type"
	FieldChannel  = "channel"
)

// Telemetry record-type markers, mirrored in the logrus.Fields a caller
// passes to the telemetry hook (see telemetry.SpanStart/SpanEvent/SpanEnd).
const (
	TraceStart = "start"
	TraceEvent = "event"
	TraceEnd   = "end"

	MetricFloat64Counter   = "float64counter"
	MetricInt64Counter     = "int64counter"
	MetricFloat64Histogram = "float64histogram"
	MetricInt64Histogram   = "int64histogram"
)

type key int

const spanHolderKey key = iota

// Store attaches a span-holder map to ctx, used by the telemetry hook to
// stash the active otel span across the Start/Event/End log calls that
// make up one traced operation.
func Store(ctx context.Context, m *map[string]any) context.Context {
	return context.WithValue(ctx, spanHolderKey, m)
}

// Get retrieves the span-holder map previously attached by Store.
func Get(ctx context.Context) (*map[string]any, bool) {
	val := ctx.Value(spanHolderKey)
	if val == nil {
		return nil, false
	}
	m, ok := val.(*map[string]any)
	return m, ok
}
