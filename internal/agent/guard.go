package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentcore/engine/internal/circuit"
	"github.com/agentcore/engine/internal/ratelimit"
	"github.com/agentcore/engine/internal/usage"
)

// GuardConfig tunes the provider guard: request rate, concurrent holders,
// and the circuit breaker over call initiation.
type GuardConfig struct {
	// RateLimit is the token-bucket discipline; use ratelimit.Preset for
	// well-known providers.
	RateLimit ratelimit.Config

	// MaxWait bounds how long Complete blocks waiting for a bucket token
	// before rejecting. Zero means reject immediately when empty.
	MaxWait time.Duration

	// MaxConcurrent gates concurrent in-flight completions independently
	// of the bucket. Zero disables the semaphore.
	MaxConcurrent int

	// Breaker configures the circuit breaker. Zero value uses the
	// circuit package defaults.
	Breaker circuit.Config
}

// GuardedProvider wraps an LLMProvider with rate limiting and circuit
// breaking. The bucket and semaphore bound request pressure; the breaker
// sheds load while the upstream is failing.
type GuardedProvider struct {
	inner   LLMProvider
	bucket  *ratelimit.Bucket
	sem     *ratelimit.Semaphore
	breaker *circuit.Breaker
	maxWait time.Duration
	limited bool

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewGuardedProvider builds the guard around inner.
func NewGuardedProvider(inner LLMProvider, cfg GuardConfig) *GuardedProvider {
	g := &GuardedProvider{
		inner:   inner,
		bucket:  ratelimit.NewBucket(cfg.RateLimit),
		breaker: circuit.New(cfg.Breaker),
		maxWait: cfg.MaxWait,
		limited: cfg.RateLimit.Enabled,
	}
	if cfg.MaxConcurrent > 0 {
		g.sem = ratelimit.NewSemaphore(cfg.MaxConcurrent)
	}
	return g
}

// Complete acquires a rate token and a concurrency slot, then initiates
// the completion under the breaker. The slot is held until the stream
// closes.
func (g *GuardedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if g.limited && !g.bucket.Acquire(ctx, g.maxWait) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("provider %s: rate limited, retry in %s", g.inner.Name(), g.bucket.WaitTime().Round(time.Millisecond))
	}

	release := func() {}
	if g.sem != nil {
		if !g.sem.Acquire(ctx) {
			return nil, ctx.Err()
		}
		release = g.sem.Release
	}

	var upstream <-chan *CompletionChunk
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		ch, err := g.inner.Complete(ctx, req)
		upstream = ch
		return err
	})
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		defer release()
		for chunk := range upstream {
			if chunk.Done {
				g.promptTokens.Add(int64(chunk.InputTokens))
				g.completionTokens.Add(int64(chunk.OutputTokens))
			}
			out <- chunk
		}
	}()
	return out, nil
}

// Usage snapshots the tokens accumulated across this process's calls.
func (g *GuardedProvider) Usage() *usage.ProviderUsage {
	prompt := g.promptTokens.Load()
	completion := g.completionTokens.Load()
	return &usage.ProviderUsage{
		Provider:         g.inner.Name(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		FetchedAt:        time.Now().Unix(),
	}
}

// Name reports the wrapped provider's name.
func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Models reports the wrapped provider's model list.
func (g *GuardedProvider) Models() []Model { return g.inner.Models() }

// SupportsTools reports the wrapped provider's tool support.
func (g *GuardedProvider) SupportsTools() bool { return g.inner.SupportsTools() }

// BreakerState exposes the breaker state for diagnostics.
func (g *GuardedProvider) BreakerState() circuit.State { return g.breaker.State() }
