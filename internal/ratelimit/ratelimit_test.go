package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucketAllow(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 1})
	if !b.Allow() {
		t.Fatalf("expected first request allowed")
	}
	if b.Allow() {
		t.Fatalf("expected second request denied (burst exhausted)")
	}
}

func TestBucketAcquireNonBlocking(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 1})
	b.Allow()
	if b.Acquire(context.Background(), 0) {
		t.Fatalf("expected non-blocking acquire to fail when exhausted")
	}
}

func TestBucketAcquireBlocking(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 1})
	b.Allow()
	if !b.Acquire(context.Background(), 100*time.Millisecond) {
		t.Fatalf("expected blocking acquire to succeed after refill")
	}
}

func TestSlidingWindowLimit(t *testing.T) {
	w := NewSlidingWindow(2, 50*time.Millisecond)
	if !w.Allow() || !w.Allow() {
		t.Fatalf("expected first two requests admitted")
	}
	if w.Allow() {
		t.Fatalf("expected third request rejected within window")
	}
	time.Sleep(60 * time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected request admitted after window elapsed")
	}
}

func TestSemaphoreBounds(t *testing.T) {
	sem := NewSemaphore(1)
	ctx := context.Background()
	if !sem.Acquire(ctx) {
		t.Fatalf("expected first acquire to succeed")
	}
	if sem.TryAcquire() {
		t.Fatalf("expected second acquire to fail while first held")
	}
	sem.Release()
	if !sem.TryAcquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestPresetFallsBackToDefault(t *testing.T) {
	if Preset("unknown-provider") != DefaultConfig() {
		t.Fatalf("expected unknown provider to fall back to DefaultConfig")
	}
}

func TestMultiLimiterRequiresAllToAllow(t *testing.T) {
	strict := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})
	loose := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 100, Enabled: true})
	m := NewMultiLimiter(strict, loose)

	if !m.Allow("k") {
		t.Fatalf("expected first call allowed")
	}
	if m.Allow("k") {
		t.Fatalf("expected second call denied by strict limiter")
	}
}
