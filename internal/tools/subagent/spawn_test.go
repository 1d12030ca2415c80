package subagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agentcore/engine/internal/multiagent"
)

func TestNewManager(t *testing.T) {
	t.Run("with positive maxActive", func(t *testing.T) {
		m := NewManager(nil, 10)
		if m == nil {
			t.Fatal("expected non-nil manager")
		}
		if m.maxActive != 10 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 10)
		}
	})

	t.Run("with zero maxActive defaults to 5", func(t *testing.T) {
		m := NewManager(nil, 0)
		if m.maxActive != 5 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 5)
		}
	})

	t.Run("with negative maxActive defaults to 5", func(t *testing.T) {
		m := NewManager(nil, -1)
		if m.maxActive != 5 {
			t.Errorf("maxActive = %d, want %d", m.maxActive, 5)
		}
	})
}

func TestDefinitionsBuiltins(t *testing.T) {
	defs := NewDefinitions()

	for _, at := range []AgentType{AgentGeneral, AgentExplore, AgentPlan} {
		if _, ok := defs.Get(at); !ok {
			t.Errorf("builtin definition missing: %s", at)
		}
	}

	// Registering builtins twice yields the same set.
	before := len(defs.Types())
	defs.RegisterBuiltins()
	if after := len(defs.Types()); after != before {
		t.Errorf("RegisterBuiltins is not idempotent: %d -> %d", before, after)
	}
}

func TestToolACL(t *testing.T) {
	defs := NewDefinitions()

	planDef, _ := defs.Get(AgentPlan)
	allowed, denied := toolACL(planDef, nil, nil)
	if len(allowed) != 0 {
		t.Errorf("plan agent should get no allowed tools, got %v", allowed)
	}
	if len(denied) == 0 || denied[0] != "*" {
		t.Errorf("plan agent should deny everything, got %v", denied)
	}

	exploreDef, _ := defs.Get(AgentExplore)
	allowed, denied = toolACL(exploreDef, []string{"websearch"}, []string{"write"})
	if !containsStr(join(allowed), "read") || !containsStr(join(allowed), "websearch") {
		t.Errorf("explore allow list = %v", allowed)
	}
	if !containsStr(join(denied), "write") {
		t.Errorf("deny override missing: %v", denied)
	}
	if !containsStr(join(denied), "spawn_subagent") {
		t.Errorf("children must never spawn their own children: %v", denied)
	}
}

func TestManager_SetAnnouncer(t *testing.T) {
	m := NewManager(nil, 5)
	m.SetAnnouncer(func(ctx context.Context, parentSession, msg string) error {
		return nil
	})

	if m.announcer == nil {
		t.Error("announcer should be set")
	}
}

func TestManager_Get(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("returns false for nonexistent agent", func(t *testing.T) {
		_, ok := m.Get("nonexistent")
		if ok {
			t.Error("expected false for nonexistent agent")
		}
	})

	t.Run("returns agent when exists", func(t *testing.T) {
		m.agents["test-id"] = &SubAgent{ID: "test-id", Name: "Test"}
		sa, ok := m.Get("test-id")
		if !ok {
			t.Error("expected true for existing agent")
		}
		if sa.Name != "Test" {
			t.Errorf("Name = %q, want %q", sa.Name, "Test")
		}
	})
}

func TestManager_List(t *testing.T) {
	m := NewManager(nil, 5)
	m.agents["a1"] = &SubAgent{ID: "a1", ParentID: "parent-1"}
	m.agents["a2"] = &SubAgent{ID: "a2", ParentID: "parent-1"}
	m.agents["a3"] = &SubAgent{ID: "a3", ParentID: "parent-2"}

	t.Run("filters by parent ID", func(t *testing.T) {
		list := m.List("parent-1")
		if len(list) != 2 {
			t.Errorf("expected 2 agents for parent-1, got %d", len(list))
		}
	})

	t.Run("returns empty for unknown parent", func(t *testing.T) {
		list := m.List("unknown")
		if len(list) != 0 {
			t.Errorf("expected 0 agents for unknown parent, got %d", len(list))
		}
	})
}

func TestManager_Kill(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("returns error for nonexistent agent", func(t *testing.T) {
		err := m.Kill("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent agent")
		}
	})

	t.Run("returns error for terminal agent", func(t *testing.T) {
		m.agents["completed"] = &SubAgent{ID: "completed", Status: "completed"}
		err := m.Kill("completed")
		if err == nil {
			t.Error("expected error for completed agent")
		}
	})

	t.Run("kills running agent and cancels its token", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		m.agents["running"] = &SubAgent{ID: "running", Status: "running", cancel: cancel}
		err := m.Kill("running")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		sa := m.agents["running"]
		if sa.Status != "killed" {
			t.Errorf("Status = %q, want %q", sa.Status, "killed")
		}
		if sa.CompletedAt.IsZero() {
			t.Error("CompletedAt should be set")
		}
		select {
		case <-ctx.Done():
		default:
			t.Error("kill must cancel the run's token")
		}
	})

	t.Run("terminal status is monotone after kill", func(t *testing.T) {
		m.completeSubAgent("running", "late result", "")
		if m.agents["running"].Status != "killed" {
			t.Error("completion after kill must not overwrite terminal status")
		}
	})
}

func TestManager_RegistryMirroring(t *testing.T) {
	registry := multiagent.NewSubagentRegistry(&multiagent.SubagentRegistryConfig{})
	defer registry.Stop()

	m := NewManager(nil, 5)
	m.SetRegistry(registry)

	ctx, cancel := context.WithCancel(context.Background())
	m.agents["run-1"] = &SubAgent{ID: "run-1", Status: "running", cancel: cancel}
	registry.Register(multiagent.RegisterSubagentParams{RunID: "run-1", Task: "t"})
	registry.AttachCancel("run-1", cancel)

	if err := m.Kill("run-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	record := registry.Get("run-1")
	if record == nil || record.Outcome == nil || record.Outcome.Status != multiagent.SubagentStatusKilled {
		t.Fatalf("registry record = %+v, want killed outcome", record)
	}
	// Kill does not remove the record.
	if registry.Get("run-1") == nil {
		t.Error("killed record must stay in the registry")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("registry kill path must cancel the token")
	}
}

func TestManager_ActiveCount(t *testing.T) {
	m := NewManager(nil, 5)
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", m.ActiveCount())
	}

	m.activeCount = 3
	if m.ActiveCount() != 3 {
		t.Errorf("ActiveCount() = %d, want 3", m.ActiveCount())
	}
}

func TestManager_completeSubAgent(t *testing.T) {
	m := NewManager(nil, 5)

	t.Run("ignores nonexistent agent", func(t *testing.T) {
		// Should not panic
		m.completeSubAgent("nonexistent", "result", "")
	})

	t.Run("marks agent as completed", func(t *testing.T) {
		m.agents["test"] = &SubAgent{ID: "test", Status: "running"}
		m.completeSubAgent("test", "success result", "")

		sa := m.agents["test"]
		if sa.Status != "completed" {
			t.Errorf("Status = %q, want %q", sa.Status, "completed")
		}
		if sa.Result != "success result" {
			t.Errorf("Result = %q, want %q", sa.Result, "success result")
		}
		if !sa.CompletedAt.After(sa.CreatedAt) || sa.CompletedAt.IsZero() {
			t.Error("CompletedAt should be set")
		}
	})

	t.Run("marks agent as failed", func(t *testing.T) {
		m.agents["test2"] = &SubAgent{ID: "test2", Status: "running"}
		m.completeSubAgent("test2", "", "error message")

		sa := m.agents["test2"]
		if sa.Status != "failed" {
			t.Errorf("Status = %q, want %q", sa.Status, "failed")
		}
		if sa.Error != "error message" {
			t.Errorf("Error = %q, want %q", sa.Error, "error message")
		}
	})

	t.Run("enqueues a completion announcement", func(t *testing.T) {
		m.agents["test3"] = &SubAgent{ID: "test3", Status: "running", Name: "worker", ParentSession: "parent-sess"}
		m.completeSubAgent("test3", "done", "")

		if m.Queue().Size("parent-sess") == 0 {
			t.Error("expected a queued announcement for the parent session")
		}
	})
}

func TestSpawnTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewSpawnTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "spawn_subagent" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "spawn_subagent")
		}
	})

	t.Run("Description", func(t *testing.T) {
		if tool.Description() == "" {
			t.Error("Description() should not be empty")
		}
	})

	t.Run("Schema", func(t *testing.T) {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Fatalf("Schema() is not valid JSON: %v", err)
		}
		if schema["type"] != "object" {
			t.Errorf("Schema type = %v, want object", schema["type"])
		}
	})

	t.Run("Execute returns failed result for empty name", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"name":"","task":"test"}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result for empty name, got %+v err %v", res, err)
		}
	})

	t.Run("Execute returns failed result for empty task", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"name":"test","task":""}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result for empty task, got %+v err %v", res, err)
		}
	})

	t.Run("Execute returns failed result for invalid JSON", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`invalid json`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result for invalid JSON, got %+v err %v", res, err)
		}
	})

	t.Run("Execute rejects unknown agent type", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"agent_type":"nonsense","name":"x","task":"y"}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result for unknown agent type, got %+v err %v", res, err)
		}
	})
}

func TestStatusTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewStatusTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "subagent_status" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "subagent_status")
		}
	})

	t.Run("Execute returns failed result for nonexistent agent", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"id":"nonexistent"}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result, got %+v err %v", res, err)
		}
	})

	t.Run("Execute returns agent status", func(t *testing.T) {
		m.agents["test-agent"] = &SubAgent{
			ID:     "test-agent",
			Name:   "Test",
			Status: "running",
			Task:   "Test task",
		}

		res, err := tool.Execute(context.Background(), []byte(`{"id":"test-agent"}`))
		if err != nil || res.IsError {
			t.Fatalf("unexpected failure: %+v err %v", res, err)
		}
		if res.Content == "" {
			t.Error("expected non-empty result")
		}
	})

	t.Run("Execute returns completed agent with result", func(t *testing.T) {
		m.agents["completed-agent"] = &SubAgent{
			ID:     "completed-agent",
			Name:   "Completed",
			Status: "completed",
			Task:   "Test task",
			Result: "Done successfully",
		}

		res, err := tool.Execute(context.Background(), []byte(`{"id":"completed-agent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsStr(res.Content, "Done successfully") {
			t.Errorf("result should contain Result, got: %s", res.Content)
		}
	})

	t.Run("Execute returns killed agent with error", func(t *testing.T) {
		m.agents["killed-agent"] = &SubAgent{
			ID:     "killed-agent",
			Name:   "Killed",
			Status: "killed",
			Task:   "Test task",
			Error:  "killed by request",
		}

		res, err := tool.Execute(context.Background(), []byte(`{"id":"killed-agent"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !containsStr(res.Content, "killed by request") {
			t.Errorf("result should contain Error, got: %s", res.Content)
		}
	})

	t.Run("Execute lists agents when no ID", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Content == "" {
			t.Error("expected non-empty result")
		}
	})
}

func TestCancelTool(t *testing.T) {
	m := NewManager(nil, 5)
	tool := NewCancelTool(m)

	t.Run("Name", func(t *testing.T) {
		if tool.Name() != "subagent_cancel" {
			t.Errorf("Name() = %q, want %q", tool.Name(), "subagent_cancel")
		}
	})

	t.Run("Execute returns failed result for empty id", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"id":""}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result, got %+v err %v", res, err)
		}
	})

	t.Run("Execute returns failed result for nonexistent agent", func(t *testing.T) {
		res, err := tool.Execute(context.Background(), []byte(`{"id":"nonexistent"}`))
		if err != nil || !res.IsError {
			t.Errorf("expected failed result, got %+v err %v", res, err)
		}
	})

	t.Run("Execute kills running agent", func(t *testing.T) {
		_, cancel := context.WithCancel(context.Background())
		m.agents["to-cancel"] = &SubAgent{ID: "to-cancel", Status: "running", cancel: cancel}

		res, err := tool.Execute(context.Background(), []byte(`{"id":"to-cancel"}`))
		if err != nil || res.IsError {
			t.Fatalf("unexpected failure: %+v err %v", res, err)
		}
		if !containsStr(res.Content, "cancelled") {
			t.Errorf("result should mention cancelled, got: %s", res.Content)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world", 8, "hello..."},
		{"empty string", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestSubAgentJSON(t *testing.T) {
	sa := &SubAgent{
		ID:       "test-id",
		ParentID: "parent-id",
		Name:     "Test Agent",
		Task:     "Do something",
		Status:   "running",
	}

	data, err := json.Marshal(sa)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded SubAgent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != sa.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, sa.ID)
	}
	if decoded.Name != sa.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, sa.Name)
	}
}

func join(items []string) string {
	out := ""
	for _, it := range items {
		out += it + ","
	}
	return out
}

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
