package multiagent

import (
	"context"
	"testing"
)

func newTestRegistry() *SubagentRegistry {
	return NewSubagentRegistry(&SubagentRegistryConfig{})
}

func TestRegistryRegisterAndStart(t *testing.T) {
	r := newTestRegistry()
	defer r.Stop()

	r.Register(RegisterSubagentParams{RunID: "run-1", Task: "explore", Label: "scout"})
	if err := r.Start("run-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	record := r.Get("run-1")
	if record == nil || record.StartedAt.IsZero() {
		t.Fatalf("record = %+v", record)
	}
	if record.IsComplete() {
		t.Error("freshly started run must not be terminal")
	}
}

func TestRegistryCompleteIsMonotone(t *testing.T) {
	r := newTestRegistry()
	defer r.Stop()

	r.Register(RegisterSubagentParams{RunID: "run-1", Task: "t"})
	if err := r.Complete("run-1", &SubagentOutcome{Status: SubagentStatusCompleted, Result: "done"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Complete("run-1", &SubagentOutcome{Status: SubagentStatusError, Error: "late"}); err == nil {
		t.Fatal("second terminal transition must be rejected")
	}
	if record := r.Get("run-1"); record.Outcome.Status != SubagentStatusCompleted {
		t.Errorf("status = %s, want completed", record.Outcome.Status)
	}
}

func TestRegistryKillCancelsAndKeepsRecord(t *testing.T) {
	r := newTestRegistry()
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	r.Register(RegisterSubagentParams{RunID: "run-1", Task: "t"})
	r.AttachCancel("run-1", cancel)

	if err := r.Kill("run-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("kill must cancel the attached token")
	}
	record := r.Get("run-1")
	if record == nil {
		t.Fatal("kill must not remove the record")
	}
	if record.Outcome == nil || record.Outcome.Status != SubagentStatusKilled {
		t.Errorf("outcome = %+v", record.Outcome)
	}
	if err := r.Kill("run-1"); err == nil {
		t.Error("killing a terminal run must be rejected")
	}
}

func TestRegistryListActiveExcludesTerminal(t *testing.T) {
	r := newTestRegistry()
	defer r.Stop()

	r.Register(RegisterSubagentParams{RunID: "live", Task: "a"})
	r.Register(RegisterSubagentParams{RunID: "done", Task: "b"})
	_ = r.Complete("done", &SubagentOutcome{Status: SubagentStatusCompleted})

	active := r.ListActive()
	if len(active) != 1 || active[0].RunID != "live" {
		t.Fatalf("active = %+v", active)
	}
}

func TestRegistryDeleteRemoves(t *testing.T) {
	r := newTestRegistry()
	defer r.Stop()

	r.Register(RegisterSubagentParams{RunID: "run-1", Task: "t"})
	r.Delete("run-1")
	if r.Get("run-1") != nil {
		t.Error("delete must remove the record")
	}
}
