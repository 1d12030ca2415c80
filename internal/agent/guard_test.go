package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/engine/internal/circuit"
	"github.com/agentcore/engine/internal/ratelimit"
)

type guardStubProvider struct {
	err   error
	calls int
}

func (p *guardStubProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: "ok", Done: true}
	close(ch)
	return ch, nil
}

func (p *guardStubProvider) Name() string        { return "stub" }
func (p *guardStubProvider) Models() []Model     { return nil }
func (p *guardStubProvider) SupportsTools() bool { return true }

func TestGuardedProviderPassesThrough(t *testing.T) {
	inner := &guardStubProvider{}
	g := NewGuardedProvider(inner, GuardConfig{
		RateLimit: ratelimit.Config{RequestsPerSecond: 100, BurstSize: 10, Enabled: true},
		MaxWait:   time.Second,
	})

	ch, err := g.Complete(context.Background(), &CompletionRequest{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	var text string
	for chunk := range ch {
		text += chunk.Text
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
}

func TestGuardedProviderRejectsWhenBucketEmpty(t *testing.T) {
	inner := &guardStubProvider{}
	g := NewGuardedProvider(inner, GuardConfig{
		RateLimit: ratelimit.Config{RequestsPerSecond: 0.001, BurstSize: 1, Enabled: true},
		MaxWait:   0,
	})

	if _, err := g.Complete(context.Background(), &CompletionRequest{}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	if _, err := g.Complete(context.Background(), &CompletionRequest{}); err == nil {
		t.Fatal("second call should be rate limited")
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
}

func TestGuardedProviderBreakerOpens(t *testing.T) {
	inner := &guardStubProvider{err: errors.New("upstream down")}
	g := NewGuardedProvider(inner, GuardConfig{
		RateLimit: ratelimit.Config{RequestsPerSecond: 100, BurstSize: 100, Enabled: true},
		MaxWait:   time.Second,
		Breaker:   circuit.Config{FailureThreshold: 2, ResetTimeout: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := g.Complete(ctx, &CompletionRequest{}); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	if g.BreakerState() != circuit.Open {
		t.Fatalf("breaker state = %s, want open", g.BreakerState())
	}

	before := inner.calls
	if _, err := g.Complete(ctx, &CompletionRequest{}); err == nil {
		t.Fatal("open breaker must reject")
	}
	if inner.calls != before {
		t.Error("open breaker admitted a call")
	}
}
