package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentcore/engine/internal/observability"
	"github.com/agentcore/engine/internal/tools/policy"
	"github.com/agentcore/engine/pkg/models"
)

// ConcurrencyMode declares how invocations of one tool may overlap with
// other tool invocations in the same dispatch.
type ConcurrencyMode string

const (
	// ConcurrencyParallel tools fan out freely under the global cap.
	ConcurrencyParallel ConcurrencyMode = "parallel"

	// ConcurrencySequential tools run one at a time across ALL sequential
	// tools, under a single shared mutex.
	ConcurrencySequential ConcurrencyMode = "sequential"

	// ConcurrencyExclusiveByType tools allow one in-flight invocation per
	// tool name; different exclusive tools may still overlap.
	ConcurrencyExclusiveByType ConcurrencyMode = "exclusive_by_type"

	// ConcurrencyLimited tools allow at most Limit in-flight invocations
	// per tool name.
	ConcurrencyLimited ConcurrencyMode = "limited"
)

// ToolConcurrency pairs a mode with its bound (used by ConcurrencyLimited).
type ToolConcurrency struct {
	Mode  ConcurrencyMode
	Limit int
}

// ConcurrencyDeclarer is implemented by tools that want a mode other than
// the default ConcurrencyParallel.
type ConcurrencyDeclarer interface {
	Concurrency() ToolConcurrency
}

// DurationDeclarer is implemented by tools that want a per-call timeout
// other than the executor default.
type DurationDeclarer interface {
	MaxExecutionDuration() time.Duration
}

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the global cap on concurrent tool executions across
	// all modes. Default: 4.
	Concurrency int

	// PerToolTimeout is the default timeout for individual tool
	// executions, overridden by a tool's own DurationDeclarer.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults for tool execution with
// 4 concurrent tools and 30 second timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolExecutor schedules tool calls across four concurrency modes with a
// global cap, per-tool permits, permission gating, and timeouts.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	gate     *policy.Gate
	gateCtx  policy.PermissionContext

	globalSem chan struct{}

	mu        sync.Mutex
	limited   map[string]chan struct{} // per-tool permits for ConcurrencyLimited
	exclusive map[string]chan struct{} // capacity-1 permits for ConcurrencyExclusiveByType
	overrides map[string]ToolConcurrency

	seqMu sync.Mutex // shared by all ConcurrencySequential tools
}

// NewToolExecutor creates a new tool executor with the given registry and configuration.
// Default values are applied if config fields are zero.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{
		registry:  registry,
		config:    config,
		globalSem: make(chan struct{}, config.Concurrency),
		limited:   make(map[string]chan struct{}),
		exclusive: make(map[string]chan struct{}),
		overrides: make(map[string]ToolConcurrency),
	}
}

// Registry exposes the tool catalog this executor dispatches against.
func (e *ToolExecutor) Registry() *ToolRegistry {
	return e.registry
}

// SetPermissionGate attaches the per-call permission gate. Calls denied by
// the gate produce failed results, never errors.
func (e *ToolExecutor) SetPermissionGate(gate *policy.Gate, pctx policy.PermissionContext) {
	e.gate = gate
	e.gateCtx = pctx
}

// SetToolConcurrency overrides the declared concurrency mode for one tool.
// Configuration wins over the tool's own declaration.
func (e *ToolExecutor) SetToolConcurrency(name string, tc ToolConcurrency) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[name] = tc
}

// concurrencyFor resolves the effective mode for a tool name: explicit
// override, then the tool's own declaration, then parallel.
func (e *ToolExecutor) concurrencyFor(name string) ToolConcurrency {
	e.mu.Lock()
	tc, ok := e.overrides[name]
	e.mu.Unlock()
	if ok {
		return tc
	}
	if e.registry != nil {
		if tool, found := e.registry.Get(name); found {
			if d, ok := tool.(ConcurrencyDeclarer); ok {
				return d.Concurrency()
			}
		}
	}
	return ToolConcurrency{Mode: ConcurrencyParallel}
}

// timeoutFor resolves the effective per-call timeout for a tool name.
func (e *ToolExecutor) timeoutFor(name string) time.Duration {
	if e.registry != nil {
		if tool, found := e.registry.Get(name); found {
			if d, ok := tool.(DurationDeclarer); ok {
				if max := d.MaxExecutionDuration(); max > 0 {
					return max
				}
			}
		}
	}
	return e.config.PerToolTimeout
}

// permitFor returns the per-tool permit channel for limited/exclusive
// modes, creating it on first use. Returns nil for modes without one.
func (e *ToolExecutor) permitFor(name string, tc ToolConcurrency) chan struct{} {
	switch tc.Mode {
	case ConcurrencyLimited:
		limit := tc.Limit
		if limit <= 0 {
			limit = 1
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		sem, ok := e.limited[name]
		if !ok {
			sem = make(chan struct{}, limit)
			e.limited[name] = sem
		}
		return sem
	case ConcurrencyExclusiveByType:
		e.mu.Lock()
		defer e.mu.Unlock()
		sem, ok := e.exclusive[name]
		if !ok {
			sem = make(chan struct{}, 1)
			e.exclusive[name] = sem
		}
		return sem
	default:
		return nil
	}
}

// ToolExecResult contains the result of a tool execution including timing and timeout information.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback is a non-blocking callback invoked for tool lifecycle events during execution.
type EventCallback func(*models.RuntimeEvent)

// ExecuteConcurrently dispatches tool calls per their concurrency modes:
// parallel and limited calls fan out as independent tasks; sequential and
// exclusive-by-type calls run one at a time after the parallel batch.
// Results are returned in the same order as the input calls regardless of
// completion order. The emit callback receives lifecycle events and must
// not block.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	var parallelIdx, sequentialIdx []int
	for i, tc := range toolCalls {
		switch e.concurrencyFor(tc.Name).Mode {
		case ConcurrencySequential, ConcurrencyExclusiveByType:
			sequentialIdx = append(sequentialIdx, i)
		default:
			parallelIdx = append(parallelIdx, i)
		}
	}

	var wg sync.WaitGroup
	for _, idx := range parallelIdx {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = e.executeOne(ctx, i, call, emit)
		}(idx, toolCalls[idx])
	}
	wg.Wait()

	for _, idx := range sequentialIdx {
		results[idx] = e.executeOne(ctx, idx, toolCalls[idx], emit)
	}

	return results
}

// executeOne runs a single call through the full dispatch sequence:
// cancellation check, permission gate, global permit, per-mode permit,
// second cancellation check, then the tool body under a timeout.
func (e *ToolExecutor) executeOne(ctx context.Context, idx int, call models.ToolCall, emit EventCallback) ToolExecResult {
	startTime := time.Now()
	fail := func(msg string, timedOut bool) ToolExecResult {
		return ToolExecResult{
			Index:     idx,
			ToolCall:  call,
			Result:    models.ToolFailure(call.ID, call.Name, msg),
			StartTime: startTime,
			EndTime:   time.Now(),
			TimedOut:  timedOut,
		}
	}

	if ctx.Err() != nil {
		return fail("context canceled", false)
	}

	if e.gate != nil {
		if decision := e.gate.Authorize(ctx, call, e.gateCtx); !decision.Allowed() {
			reason := decision.Reason
			if reason == "" {
				reason = "permission denied"
			}
			if emit != nil {
				emit(models.NewToolEvent(models.EventToolFailed, call.Name, call.ID).
					WithMeta("denied", true).
					WithMessage(reason))
			}
			return fail("permission denied: "+reason, false)
		} else if decision.Kind == policy.DecisionModify && decision.NewCall != nil {
			replaced := *decision.NewCall
			replaced.ID = call.ID
			call = replaced
		}
	}

	tc := e.concurrencyFor(call.Name)

	// Global cap first; a saturated executor delays every mode equally.
	select {
	case e.globalSem <- struct{}{}:
		defer func() { <-e.globalSem }()
	case <-ctx.Done():
		return fail("context canceled", false)
	}

	switch tc.Mode {
	case ConcurrencySequential:
		e.seqMu.Lock()
		defer e.seqMu.Unlock()
	case ConcurrencyLimited, ConcurrencyExclusiveByType:
		permit := e.permitFor(call.Name, tc)
		select {
		case permit <- struct{}{}:
			defer func() { <-permit }()
		case <-ctx.Done():
			return fail("context canceled", false)
		}
	}

	if ctx.Err() != nil {
		return fail("context canceled", false)
	}

	var result models.ToolResult
	var timedOut bool
	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if emit != nil {
			emit(models.NewToolEvent(models.EventToolStarted, call.Name, call.ID).
				WithMeta("attempt", attempt))
		}

		toolCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(call.Name))
		toolCtx = observability.AddToolCallID(toolCtx, call.ID)
		result, timedOut = e.executeWithTimeout(toolCtx, call)
		cancel()

		if result.Success {
			break
		}

		if attempt < maxAttempts {
			if emit != nil {
				eventType := models.EventToolFailed
				if timedOut {
					eventType = models.EventToolTimeout
				}
				emit(models.NewToolEvent(eventType, call.Name, call.ID).
					WithMeta("attempt", attempt).
					WithMeta("retrying", true))
			}
			if e.config.RetryBackoff > 0 {
				canceled := false
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					result = models.ToolFailure(call.ID, call.Name, "tool execution canceled")
					canceled = true
				}
				if canceled {
					break
				}
			}
		}
	}

	endTime := time.Now()
	result = result.WithMeta("duration_ms", endTime.Sub(startTime).Milliseconds())

	if emit != nil {
		var eventType models.RuntimeEventType
		if timedOut {
			eventType = models.EventToolTimeout
		} else if result.Failed() {
			eventType = models.EventToolFailed
		} else {
			eventType = models.EventToolCompleted
		}
		event := models.NewToolEvent(eventType, call.Name, call.ID)
		event.WithMeta("duration_ms", endTime.Sub(startTime).Milliseconds())
		emit(event)
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    result,
		StartTime: startTime,
		EndTime:   endTime,
		TimedOut:  timedOut,
	}
}

// executeWithTimeout executes a single tool call with timeout handling.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall) (models.ToolResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	resultChan := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case resultChan <- execResult{err: fmt.Errorf("tool panicked: %v", r)}:
				default:
				}
			}
		}()
		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		// Use non-blocking send to prevent goroutine leak if context is already done
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			// Context cancelled/timed out before execution completed - log for observability
			runID := observability.GetRunID(ctx)
			sessionID := observability.GetSessionID(ctx)
			slog.Warn(
				"tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", runID,
				"session_id", sessionID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		// Distinguish between timeout and cancellation
		var content string
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			content = fmt.Sprintf("tool execution timed out after %v", e.timeoutFor(call.Name))
		} else {
			content = "tool execution canceled"
		}
		return models.ToolFailure(call.ID, call.Name, content), errors.Is(ctx.Err(), context.DeadlineExceeded)
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolFailure(call.ID, call.Name, res.err.Error()), false
		}
		return toModelResult(call.ID, call.Name, res.result), false
	}
}

// ExecuteSequentially executes tool calls one at a time in order.
// Results are returned in the same order as the input calls.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		startTime := time.Now()
		maxAttempts := e.config.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 1
		}
		var result models.ToolResult
		var timedOut bool
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			toolCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(tc.Name))
			toolCtx = observability.AddToolCallID(toolCtx, tc.ID)
			result, timedOut = e.executeWithTimeout(toolCtx, tc)
			cancel()
			if result.Success {
				break
			}
			if attempt < maxAttempts && e.config.RetryBackoff > 0 {
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					result = models.ToolFailure(tc.ID, tc.Name, "tool execution canceled")
					break
				}
			}
		}
		endTime := time.Now()

		results[i] = ToolExecResult{
			Index:     i,
			ToolCall:  tc,
			Result:    result,
			StartTime: startTime,
			EndTime:   endTime,
			TimedOut:  timedOut,
		}
	}

	return results
}

// ExecuteSingle executes a single tool call by name with timeout and retry logic.
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(name))
		// Note: ExecuteSingle doesn't have a tool call ID, but the context
		// may already have one from the caller
		result, err := e.registry.Execute(toolCtx, name, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts && e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
