package unified

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentcore/engine/internal/agent/tape"
)

// trajectoryDoc is the on-disk record of one run: identity, budgets, every
// LLM interaction, every step, and the terminal result.
type trajectoryDoc struct {
	ID              string        `json:"id"`
	Task            TaskMetadata  `json:"task"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Provider        string        `json:"provider"`
	Model           string        `json:"model,omitempty"`
	MaxSteps        int           `json:"max_steps"`
	LLMInteractions []tape.Turn   `json:"llm_interactions"`
	Steps           []*StepRecord `json:"steps"`
	Success         bool          `json:"success"`
	FinalResult     string        `json:"final_result,omitempty"`
	TotalSeconds    float64       `json:"total_execution_time_seconds"`
}

// trajectory incrementally persists one run's record. Write failures are
// logged and never fail the run.
type trajectory struct {
	mu        sync.Mutex
	path      string
	execution *Execution
	recorder  *tape.Recorder
	provider  string
	model     string
	maxSteps  int
	success   bool
}

func newTrajectory(path string, execution *Execution, recorder *tape.Recorder, provider, model string, maxSteps int) *trajectory {
	return &trajectory{
		path:      path,
		execution: execution,
		recorder:  recorder,
		provider:  provider,
		model:     model,
		maxSteps:  maxSteps,
	}
}

// startAutoSave flushes the trajectory every interval until the returned
// stop function runs. A zero interval disables the ticker; the final flush
// still happens.
func (t *trajectory) startAutoSave(interval time.Duration) func() {
	if t.path == "" || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.flush()
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// flush writes the current snapshot to disk.
func (t *trajectory) flush() {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	end := t.execution.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	doc := trajectoryDoc{
		ID:           t.execution.ID,
		Task:         t.execution.Task,
		StartTime:    t.execution.StartedAt,
		EndTime:      end,
		Provider:     t.provider,
		Model:        t.model,
		MaxSteps:     t.maxSteps,
		Steps:        t.execution.Steps,
		Success:      t.success,
		FinalResult:  t.execution.FinalResult,
		TotalSeconds: end.Sub(t.execution.StartedAt).Seconds(),
	}
	if t.recorder != nil {
		doc.LLMInteractions = t.recorder.Tape().Turns
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		slog.Warn("trajectory encode failed", "error", err, "run_id", t.execution.ID)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		slog.Warn("trajectory mkdir failed", "error", err, "path", t.path)
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("trajectory write failed", "error", err, "path", t.path)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		slog.Warn("trajectory rename failed", "error", err, "path", t.path)
	}
}
