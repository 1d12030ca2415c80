package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpensAfterFailureThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 2, ResetTimeout: time.Hour})
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	if b.State() != Closed {
		t.Fatalf("expected still closed after 1 failure")
	}
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	if b.State() != Open {
		t.Fatalf("expected open after threshold reached")
	}
}

func TestOpenRejectsAllCalls(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatalf("fn should not run while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestHalfOpenAdmitsCappedProbes(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Millisecond, HalfOpenMaxRequests: 1, SuccessThreshold: 5})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(5 * time.Millisecond)

	blocking := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(blocking)
			<-done
			return nil
		})
	}()
	<-blocking

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected second concurrent half-open probe rejected, got %v", err)
	}
	close(done)
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	if b.State() != HalfOpen {
		t.Fatalf("expected still half-open after 1 success")
	}
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	if b.State() != Closed {
		t.Fatalf("expected closed after success threshold")
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 2})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("still broken") })
	if b.State() != Open {
		t.Fatalf("expected reopen on half-open failure")
	}
}

func TestRegistryGetIsIdempotent(t *testing.T) {
	r := NewRegistry(Config{})
	a := r.Get("provider-a")
	b := r.Get("provider-a")
	if a != b {
		t.Fatalf("expected same breaker instance for repeated Get")
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := New(Config{})
	v, err := ExecuteWithResult(b, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got v=%d err=%v", v, err)
	}
}
