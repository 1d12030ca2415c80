package observability

import (
	"context"
	"fmt"
	"testing"
)

func TestContextCorrelationIDs(t *testing.T) {
	ctx := context.Background()
	if GetRunID(ctx) != "" || GetSessionID(ctx) != "" || GetToolCallID(ctx) != "" {
		t.Fatal("empty context must yield empty ids")
	}

	ctx = AddRunID(ctx, "run-1")
	ctx = AddSessionID(ctx, "sess-1")
	ctx = AddToolCallID(ctx, "tc-1")

	if GetRunID(ctx) != "run-1" {
		t.Errorf("run id = %q", GetRunID(ctx))
	}
	if GetSessionID(ctx) != "sess-1" {
		t.Errorf("session id = %q", GetSessionID(ctx))
	}
	if GetToolCallID(ctx) != "tc-1" {
		t.Errorf("tool call id = %q", GetToolCallID(ctx))
	}
}

func TestTraceIDsOutsideSpan(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetSpanID(ctx) != "" {
		t.Error("no span means no trace/span ids")
	}
}

func TestMemoryEventStoreRecordAndQuery(t *testing.T) {
	store := NewMemoryEventStore(10)

	for i := 0; i < 3; i++ {
		_ = store.Record(&Event{ID: fmt.Sprintf("e%d", i), Type: EventTypeRunStart, RunID: "run-a"})
	}
	_ = store.Record(&Event{ID: "other", Type: EventTypeRunEnd, RunID: "run-b"})

	events, err := store.GetByRunID("run-a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].ID != "e0" {
		t.Error("events must keep insertion order")
	}
}

func TestMemoryEventStoreBounded(t *testing.T) {
	store := NewMemoryEventStore(2)
	for i := 0; i < 5; i++ {
		_ = store.Record(&Event{ID: fmt.Sprintf("e%d", i), RunID: "r"})
	}
	events, _ := store.GetByRunID("r")
	if len(events) != 2 {
		t.Fatalf("got %d events, want cap of 2", len(events))
	}
	if events[0].ID != "e3" || events[1].ID != "e4" {
		t.Errorf("oldest must be evicted, got %s %s", events[0].ID, events[1].ID)
	}
}
