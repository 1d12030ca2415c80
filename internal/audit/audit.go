// Package audit writes the structured decision log: every tool invocation,
// completion, denial, and compaction, with run/trace correlation, appended
// as one JSON line per event.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/observability"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventToolInvocation EventType = "tool.invocation"
	EventToolCompletion EventType = "tool.completion"
	EventToolDenied     EventType = "tool.denied"
	EventCompaction     EventType = "session.compact"
)

// Event is one audit record.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	SessionID  string          `json:"session_id,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Source     string          `json:"source,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	Detail     map[string]any  `json:"detail,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	SpanID     string          `json:"span_id,omitempty"`
}

// Config tunes the logger.
type Config struct {
	// Enabled turns the log on; a disabled logger drops every event.
	Enabled bool

	// Output is "stdout", "stderr", or "file:/path/to/audit.log".
	Output string

	// IncludeToolInput controls whether raw tool arguments are recorded.
	IncludeToolInput bool

	// MaxOutputChars truncates recorded tool output. Default 2048.
	MaxOutputChars int
}

// Logger appends audit events as JSON lines. Writes are serialized; a
// write failure drops the event rather than failing the caller.
type Logger struct {
	config Config
	mu     sync.Mutex
	out    io.WriteCloser
	enc    *json.Encoder
}

// NewLogger opens the configured output. A file: target gets its parent
// directory created.
func NewLogger(config Config) (*Logger, error) {
	if config.MaxOutputChars <= 0 {
		config.MaxOutputChars = 2048
	}

	var out io.WriteCloser
	switch {
	case !config.Enabled:
		out = nil
	case config.Output == "" || config.Output == "stderr":
		out = os.Stderr
	case config.Output == "stdout":
		out = os.Stdout
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open log: %w", err)
		}
		out = f
	default:
		return nil, fmt.Errorf("audit: unknown output %q", config.Output)
	}

	l := &Logger{config: config, out: out}
	if out != nil {
		l.enc = json.NewEncoder(out)
	}
	return l, nil
}

// Close releases a file-backed output. Stdout/stderr are left open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil || l.out == os.Stdout || l.out == os.Stderr {
		return nil
	}
	return l.out.Close()
}

// Log appends one event, filling id, timestamp, and correlation ids.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || l.enc == nil || event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = observability.GetRunID(ctx)
	event.TraceID = observability.GetTraceID(ctx)
	event.SpanID = observability.GetSpanID(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(event)
}

// LogToolInvocation records a tool call entering execution.
func (l *Logger) LogToolInvocation(ctx context.Context, toolName, toolCallID string, input json.RawMessage, sessionKey string) {
	event := &Event{
		Type:       EventToolInvocation,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		SessionKey: sessionKey,
	}
	if l != nil && l.config.IncludeToolInput {
		event.Input = input
	}
	l.Log(ctx, event)
}

// LogToolCompletion records a tool call's outcome and duration.
func (l *Logger) LogToolCompletion(ctx context.Context, toolName, toolCallID string, success bool, output string, duration time.Duration, sessionKey string) {
	if l != nil && len(output) > l.config.MaxOutputChars {
		output = output[:l.config.MaxOutputChars] + "...[truncated]"
	}
	l.Log(ctx, &Event{
		Type:       EventToolCompletion,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Success:    success,
		Output:     output,
		DurationMS: duration.Milliseconds(),
		SessionKey: sessionKey,
	})
}

// LogToolDenied records a call the policy or gate refused.
func (l *Logger) LogToolDenied(ctx context.Context, toolName, toolCallID, reason, source, sessionKey string) {
	l.Log(ctx, &Event{
		Type:       EventToolDenied,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Reason:     reason,
		Source:     source,
		SessionKey: sessionKey,
	})
}

// LogSessionCompact records one boundary compaction with its token savings.
func (l *Logger) LogSessionCompact(ctx context.Context, sessionID, sessionKey string, before, after, tokensSaved int, strategy string) {
	l.Log(ctx, &Event{
		Type:       EventCompaction,
		SessionID:  sessionID,
		SessionKey: sessionKey,
		Detail: map[string]any{
			"tokens_before": before,
			"tokens_after":  after,
			"tokens_saved":  tokensSaved,
			"strategy":      strategy,
		},
	})
}
