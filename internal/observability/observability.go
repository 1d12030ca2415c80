// Package observability carries the run correlation ids, the Prometheus
// instruments, and the event timeline the engine emits while executing.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

type runIDKey struct{}
type sessionIDKey struct{}
type toolCallIDKey struct{}

// AddRunID stamps the current run's id onto the context so every log line
// and event below it can correlate.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// GetRunID returns the run id from the context, empty when unset.
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// AddSessionID stamps the owning session's id onto the context.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// GetSessionID returns the session id from the context, empty when unset.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// AddToolCallID stamps the in-flight tool call's id onto the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey{}, toolCallID)
}

// GetToolCallID returns the tool call id from the context, empty when unset.
func GetToolCallID(ctx context.Context) string {
	id, _ := ctx.Value(toolCallIDKey{}).(string)
	return id
}

// GetTraceID returns the active otel trace id, empty outside a span.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the active otel span id, empty outside a span.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

// Metrics aggregates the engine's Prometheus instruments. Construct once
// per process; promauto registers collectors globally.
type Metrics struct {
	LLMRequestDuration *prometheus.HistogramVec
	ToolDuration       *prometheus.HistogramVec
	ToolTotal          *prometheus.CounterVec
	ErrorTotal         *prometheus.CounterVec
}

// NewMetrics registers and returns the instrument set.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_llm_request_duration_seconds",
			Help:    "LLM request latency by provider, model, and status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider", "model", "status"}),

		ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexus_tool_duration_seconds",
			Help:    "Tool execution latency by tool and status",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"tool", "status"}),

		ToolTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_tool_executions_total",
			Help: "Tool executions by tool and status",
		}, []string{"tool", "status"}),

		ErrorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexus_errors_total",
			Help: "Errors by component",
		}, []string{"component"}),
	}
}

// RecordLLMRequest observes one completed LLM round-trip.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
	if status != "success" {
		m.ErrorTotal.WithLabelValues("llm").Inc()
	}
	_ = promptTokens
	_ = completionTokens
}

// RecordToolExecution observes one completed tool call.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	m.ToolDuration.WithLabelValues(tool, status).Observe(durationSeconds)
	m.ToolTotal.WithLabelValues(tool, status).Inc()
	if status != "success" {
		m.ErrorTotal.WithLabelValues("tool").Inc()
	}
}

// EventType tags one timeline event.
type EventType string

const (
	EventTypeRunStart EventType = "run.start"
	EventTypeRunEnd   EventType = "run.end"
	EventTypeRunError EventType = "run.error"
)

// Event is one entry in a run's timeline.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventStore records lifecycle events for post-hoc inspection.
type EventStore interface {
	Record(event *Event) error
	GetByRunID(runID string) ([]*Event, error)
}

// MemoryEventStore is a bounded in-memory ring of events; the oldest entry
// falls off once the cap is reached.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []*Event
	max    int
}

// NewMemoryEventStore builds a store holding at most maxSize events.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &MemoryEventStore{max: maxSize}
}

// Record appends an event, evicting the oldest past the cap.
func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

// GetByRunID returns the run's events in insertion order.
func (s *MemoryEventStore) GetByRunID(runID string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}
