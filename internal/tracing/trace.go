// Package tracing implements the Pipeline Tracer (C12): a per-query
// record of how long each routing stage took, shaped after the
// teacher's Trace/Span pattern but stripped of its distributed-tracing
// machinery (no service graph, no external trace-header parsing) since
// a query here only ever touches this one process.
package tracing

import "time"

// TraceSpan records one pipeline stage's timing.
type TraceSpan struct {
	Stage     string        `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Detail    string        `json:"detail,omitempty"`
}

// QueryTrace is the ordered set of spans for a single query.
type QueryTrace struct {
	ID    string      `json:"id"`
	Spans []TraceSpan `json:"spans"`
}

// NewTrace starts a trace identified by id (minted by the caller — the
// orchestrator uses a process-local "trace-<hex>" counter — so HTTP
// responses and event-feed entries can cross-reference it).
func NewTrace(id string) *QueryTrace {
	return &QueryTrace{ID: id}
}

// Span starts timing stage and returns a closer to call when the stage
// finishes, either deferred (`defer trace.Span("prune")()`) or called
// explicitly as the orchestrator does (`end := trace.Span("prune"); ...; end()`).
func (t *QueryTrace) Span(stage string) func() {
	start := time.Now()
	return func() {
		t.Spans = append(t.Spans, TraceSpan{
			Stage:     stage,
			StartedAt: start,
			Duration:  time.Since(start),
		})
	}
}

// SpanWithDetail is Span, but records a free-text detail string
// (e.g. a chosen engine ID or a pruning ratio) alongside the timing.
func (t *QueryTrace) SpanWithDetail(stage string) func(detail string) {
	start := time.Now()
	return func(detail string) {
		t.Spans = append(t.Spans, TraceSpan{
			Stage:     stage,
			StartedAt: start,
			Duration:  time.Since(start),
			Detail:    detail,
		})
	}
}

// TotalDuration sums every recorded span's duration.
func (t *QueryTrace) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range t.Spans {
		total += s.Duration
	}
	return total
}
