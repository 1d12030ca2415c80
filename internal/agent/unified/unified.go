// Package unified drives one task to a terminal outcome: it owns the
// interrupt scope, the trajectory record, and the mapping from the step
// loop's chunk stream to an inspectable Execution.
package unified

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/agent/tape"
	"github.com/agentcore/engine/internal/observability"
	"github.com/agentcore/engine/internal/sessions"
	"github.com/agentcore/engine/pkg/models"
)

// TaskMetadata describes the single task one Execute call runs.
type TaskMetadata struct {
	Description      string `json:"description"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// StepRecord captures one loop step: the assistant turn plus the tool
// round it triggered.
type StepRecord struct {
	Index       int                 `json:"index"`
	Assistant   string              `json:"assistant,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Execution is the full record of one run, attached to every outcome so
// partial progress stays inspectable.
type Execution struct {
	ID          string        `json:"id"`
	Task        TaskMetadata  `json:"task"`
	Steps       []*StepRecord `json:"steps"`
	FinalResult string        `json:"final_result,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// LastStep returns the most recent step, or nil when none ran.
func (e *Execution) LastStep() *StepRecord {
	if len(e.Steps) == 0 {
		return nil
	}
	return e.Steps[len(e.Steps)-1]
}

// OutcomeKind is the terminal condition of one run.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeMaxStepsReached OutcomeKind = "max_steps_reached"
	OutcomeInterrupted     OutcomeKind = "interrupted"
	OutcomeUserCancelled   OutcomeKind = "user_cancelled"
	OutcomeNeedsUserInput  OutcomeKind = "needs_user_input"
	OutcomeFailed          OutcomeKind = "failed"
)

// ExecutionOutcome pairs the terminal condition with the execution record
// and, for OutcomeFailed, the error.
type ExecutionOutcome struct {
	Kind      OutcomeKind `json:"kind"`
	Execution *Execution  `json:"execution"`
	Err       error       `json:"-"`
}

// Succeeded reports whether the run reached its final answer.
func (o *ExecutionOutcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// InterruptReason says who asked for the interrupt.
type InterruptReason string

const (
	ReasonManual        InterruptReason = "manual"
	ReasonUserInterrupt InterruptReason = "user_interrupt"
	ReasonSignalInt     InterruptReason = "signal_int"
	ReasonTimeout       InterruptReason = "timeout"
)

// InterruptManager holds the active run's cancellation hook so external
// callers (signal handlers, IPC cancel, UI) can stop it. One manager is
// process-wide; the executor re-registers it on each run.
type InterruptManager struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	reason InterruptReason
}

// NewInterruptManager returns an empty manager.
func NewInterruptManager() *InterruptManager {
	return &InterruptManager{}
}

// DefaultInterruptManager is the process-wide manager used when an
// Executor isn't given its own.
var DefaultInterruptManager = NewInterruptManager()

// Register installs the current run's cancel hook and clears any stale
// reason from the previous run.
func (m *InterruptManager) Register(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = cancel
	m.reason = ""
}

// Interrupt cancels the active run, recording why. Returns false when no
// run is active.
func (m *InterruptManager) Interrupt(reason InterruptReason) bool {
	m.mu.Lock()
	cancel := m.cancel
	if cancel != nil {
		m.reason = reason
	}
	m.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Reset clears the active run's hook. The recorded reason survives until
// the next Register so the executor can classify the outcome.
func (m *InterruptManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel = nil
}

// LastReason returns the reason recorded by the most recent Interrupt.
func (m *InterruptManager) LastReason() InterruptReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Config tunes one unified executor.
type Config struct {
	// Loop configures the underlying step loop (budgets, tools, compaction).
	Loop *agent.LoopConfig

	// Model and SystemPrompt seed the loop's defaults.
	Model        string
	SystemPrompt string

	// TrajectoryPath, when set, receives the run's trajectory document.
	// Write failures log a warning and never fail the run.
	TrajectoryPath string

	// TrajectoryAutoSave is the interval between incremental trajectory
	// writes. Zero disables auto-save; the final flush always happens.
	TrajectoryAutoSave time.Duration

	// Interrupts overrides DefaultInterruptManager, mainly for tests.
	Interrupts *InterruptManager

	// OnChunk, when set, observes every chunk as it streams; the hook for
	// terminal/JSONL rendering. It must not block.
	OnChunk func(*agent.ResponseChunk)

	// Events, when set, receives run/tool lifecycle events for post-hoc
	// inspection.
	Events observability.EventStore
}

// Executor runs one task at a time over a provider, tool registry, and
// session store, producing an ExecutionOutcome per run.
type Executor struct {
	provider agent.LLMProvider
	registry *agent.ToolRegistry
	store    sessions.Store
	config   Config
}

// NewExecutor assembles a unified executor. A nil store gets an in-memory
// session store; a nil Loop config gets defaults.
func NewExecutor(provider agent.LLMProvider, registry *agent.ToolRegistry, store sessions.Store, config Config) *Executor {
	if store == nil {
		store = sessions.NewMemoryStore()
	}
	if config.Loop == nil {
		config.Loop = agent.DefaultLoopConfig()
	}
	// The executor reconstructs step records from streamed tool results, so
	// the loop must emit them.
	config.Loop.StreamToolResults = true
	if config.Interrupts == nil {
		config.Interrupts = DefaultInterruptManager
	}
	return &Executor{
		provider: provider,
		registry: registry,
		store:    store,
		config:   config,
	}
}

// Execute runs one task to a terminal outcome. The provider is wrapped in
// a trajectory recorder for the duration of the run; the trajectory file
// is flushed on every exit path.
func (e *Executor) Execute(ctx context.Context, task TaskMetadata) *ExecutionOutcome {
	execution := &Execution{
		ID:        uuid.NewString(),
		Task:      task,
		StartedAt: time.Now(),
	}

	recorder := tape.NewRecorder(e.provider)
	if e.config.Model != "" {
		recorder.WithModel(e.config.Model)
	}
	if e.config.SystemPrompt != "" {
		recorder.WithSystemPrompt(e.config.SystemPrompt)
	}

	loop := agent.NewAgenticLoop(recorder, e.registry, e.store, e.config.Loop)
	if e.config.Model != "" {
		loop.SetDefaultModel(e.config.Model)
	}
	if e.config.SystemPrompt != "" {
		loop.SetDefaultSystem(e.config.SystemPrompt)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.config.Interrupts.Register(cancel)
	defer e.config.Interrupts.Reset()

	traj := newTrajectory(e.config.TrajectoryPath, execution, recorder, e.provider.Name(), e.config.Model, e.config.Loop.MaxIterations)
	stopAutoSave := traj.startAutoSave(e.config.TrajectoryAutoSave)
	defer func() {
		stopAutoSave()
		execution.FinishedAt = time.Now()
		traj.flush()
	}()

	runCtx = observability.AddRunID(runCtx, execution.ID)
	e.recordEvent(observability.EventTypeRunStart, execution, "", nil)

	session, err := e.store.GetOrCreate(runCtx, execution.ID, "agent", models.ChannelCLI, "")
	if err != nil {
		execution.FinishedAt = time.Now()
		return &ExecutionOutcome{Kind: OutcomeFailed, Execution: execution, Err: err}
	}

	msg := &models.Message{Role: models.RoleUser, Content: task.Description}
	chunks, err := loop.Run(runCtx, session, msg)
	if err != nil {
		execution.FinishedAt = time.Now()
		return &ExecutionOutcome{Kind: OutcomeFailed, Execution: execution, Err: err}
	}

	outcome := e.consume(runCtx, execution, chunks)
	traj.success = outcome.Kind == OutcomeSuccess
	if outcome.Kind == OutcomeFailed && outcome.Err != nil {
		e.recordEvent(observability.EventTypeRunError, execution, outcome.Err.Error(), nil)
	}
	e.recordEvent(observability.EventTypeRunEnd, execution, "", map[string]interface{}{"outcome": string(outcome.Kind)})
	return outcome
}

// recordEvent appends a lifecycle event to the configured store. Storage
// failures never fail the run.
func (e *Executor) recordEvent(eventType observability.EventType, execution *Execution, errText string, data map[string]interface{}) {
	if e.config.Events == nil {
		return
	}
	_ = e.config.Events.Record(&observability.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     execution.ID,
		Error:     errText,
		Data:      data,
	})
}

// consume folds the chunk stream into step records and classifies the
// terminal condition.
func (e *Executor) consume(ctx context.Context, execution *Execution, chunks <-chan *agent.ResponseChunk) *ExecutionOutcome {
	step := &StepRecord{Index: 0}
	stepOpen := false
	var runErr error

	closeStep := func() {
		if stepOpen {
			execution.Steps = append(execution.Steps, step)
			step = &StepRecord{Index: len(execution.Steps)}
			stepOpen = false
		}
	}

	for chunk := range chunks {
		if e.config.OnChunk != nil {
			e.config.OnChunk(chunk)
		}
		switch {
		case chunk.Error != nil:
			runErr = chunk.Error
			step.Error = chunk.Error.Error()
			stepOpen = true
		case chunk.ToolEvent != nil:
			if chunk.ToolEvent.Stage == models.ToolEventRequested {
				step.ToolCalls = append(step.ToolCalls, models.ToolCall{
					ID:    chunk.ToolEvent.ToolCallID,
					Name:  chunk.ToolEvent.ToolName,
					Input: chunk.ToolEvent.Input,
				})
				stepOpen = true
			}
		case chunk.ToolResult != nil:
			step.ToolResults = append(step.ToolResults, *chunk.ToolResult)
			stepOpen = true
			// A full tool round ends the step; the next text belongs to
			// the following assistant turn.
			if len(step.ToolResults) >= len(step.ToolCalls) && len(step.ToolCalls) > 0 {
				closeStep()
			}
		case chunk.Text != "":
			step.Assistant += chunk.Text
			stepOpen = true
		}
	}
	closeStep()

	if last := execution.LastStep(); last != nil {
		execution.FinalResult = last.Assistant
	}
	execution.FinishedAt = time.Now()

	return &ExecutionOutcome{
		Kind:      e.classify(ctx, runErr, execution),
		Execution: execution,
		Err:       runErr,
	}
}

// classify maps the loop's terminal error (or lack of one) to an outcome.
func (e *Executor) classify(ctx context.Context, runErr error, execution *Execution) OutcomeKind {
	if runErr == nil {
		if last := execution.LastStep(); last != nil {
			for _, tr := range last.ToolResults {
				if tr.Failed() && strings.Contains(tr.Error, "approval required") {
					return OutcomeNeedsUserInput
				}
			}
		}
		return OutcomeSuccess
	}

	if errors.Is(runErr, agent.ErrMaxIterations) {
		return OutcomeMaxStepsReached
	}

	if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
		switch e.config.Interrupts.LastReason() {
		case ReasonUserInterrupt, ReasonSignalInt:
			return OutcomeUserCancelled
		default:
			return OutcomeInterrupted
		}
	}

	return OutcomeFailed
}
