package routing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/engine/internal/agent"
)

type stubProvider struct {
	name          string
	supportsTools bool
	fail          bool
	calls         int
	lastModel     string
}

func (p *stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.calls++
	p.lastModel = req.Model
	if p.fail {
		return nil, errors.New("provider down")
	}
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *stubProvider) Name() string          { return p.name }
func (p *stubProvider) Models() []agent.Model { return nil }
func (p *stubProvider) SupportsTools() bool   { return p.supportsTools }

type dummyTool struct{}

func (dummyTool) Name() string            { return "dummy" }
func (dummyTool) Description() string     { return "dummy tool" }
func (dummyTool) Schema() json.RawMessage { return nil }
func (dummyTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{}, nil
}

func userReq(content string) *agent.CompletionRequest {
	return &agent.CompletionRequest{Messages: []agent.CompletionMessage{{Role: "user", Content: content}}}
}

func TestRouterTagTarget(t *testing.T) {
	fast := &stubProvider{name: "fast"}
	main := &stubProvider{name: "main"}

	r := NewRouter(Config{
		DefaultProvider: "main",
		TagTargets:      map[string]Target{"quick": {Provider: "fast", Model: "fast-mini"}},
	}, map[string]agent.LLMProvider{"fast": fast, "main": main})

	// "what is" trips the quick heuristic.
	if _, err := r.Complete(context.Background(), userReq("what is a goroutine?")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if fast.calls != 1 || main.calls != 0 {
		t.Errorf("calls: fast=%d main=%d", fast.calls, main.calls)
	}
	if fast.lastModel != "fast-mini" {
		t.Errorf("model override lost: %q", fast.lastModel)
	}
}

func TestRouterDefaultsWithoutTagMatch(t *testing.T) {
	main := &stubProvider{name: "main"}
	r := NewRouter(Config{DefaultProvider: "main"}, map[string]agent.LLMProvider{"main": main})

	long := userReq("please refactor this package and explain the change in detail so it is no longer ambiguous")
	if _, err := r.Complete(context.Background(), long); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if main.calls != 1 {
		t.Errorf("main calls = %d", main.calls)
	}
}

func TestRouterFallbackOnFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", fail: true}
	backup := &stubProvider{name: "backup"}

	r := NewRouter(Config{
		DefaultProvider: "primary",
		Fallback:        Target{Provider: "backup"},
		FailureCooldown: time.Minute,
	}, map[string]agent.LLMProvider{"primary": primary, "backup": backup})

	if _, err := r.Complete(context.Background(), userReq("hello there friend, how is the weather looking today?")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if backup.calls == 0 {
		t.Error("backup never tried")
	}

	// Primary is sidelined for the cooldown; the next call skips it.
	before := primary.calls
	if _, err := r.Complete(context.Background(), userReq("and another question for you about something else entirely")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if primary.calls != before {
		t.Error("unhealthy provider must be skipped during cooldown")
	}
}

func TestRouterToolRequestsNeedToolSupport(t *testing.T) {
	noTools := &stubProvider{name: "notools", supportsTools: false}
	withTools := &stubProvider{name: "withtools", supportsTools: true}

	r := NewRouter(Config{DefaultProvider: "notools"},
		map[string]agent.LLMProvider{"notools": noTools, "withtools": withTools})

	req := userReq("use a tool please to accomplish the following task for me now")
	req.Tools = []agent.Tool{dummyTool{}}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if noTools.calls != 0 || withTools.calls != 1 {
		t.Errorf("calls: notools=%d withtools=%d", noTools.calls, withTools.calls)
	}
}

func TestRouterIdentity(t *testing.T) {
	r := NewRouter(Config{DefaultProvider: "main"}, map[string]agent.LLMProvider{
		"main": &stubProvider{name: "main", supportsTools: true},
	})
	if r.Name() != "router:main" {
		t.Errorf("Name() = %q", r.Name())
	}
	if !r.SupportsTools() {
		t.Error("router should report tool support")
	}
}
