package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	if err := s.Set(ctx, "ns", "a", []byte("hello"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "ns", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
	if s.Statistics().Hits != 1 {
		t.Fatalf("expected 1 hit")
	}
}

func TestMemoryStoreMiss(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	if _, err := s.Get(ctx, "ns", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s.Statistics().Misses != 1 {
		t.Fatalf("expected 1 miss")
	}
}

func TestMemoryStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	_ = s.Set(ctx, "ns", "a", []byte("1"), 0)
	_ = s.Set(ctx, "ns", "b", []byte("2"), 0)
	// touch "a" so "b" becomes the least recently used
	_, _ = s.Get(ctx, "ns", "a")
	_ = s.Set(ctx, "ns", "c", []byte("3"), 0)

	if _, err := s.Get(ctx, "ns", "b"); err != ErrNotFound {
		t.Fatalf("expected b evicted, got err=%v", err)
	}
	if _, err := s.Get(ctx, "ns", "a"); err != nil {
		t.Fatalf("expected a retained: %v", err)
	}
	if s.Statistics().Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", s.Statistics().Evictions)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.Set(ctx, "ns", "a", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Get(ctx, "ns", "a"); err != ErrNotFound {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestDiskStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "cache")
	s, err := NewDiskStore(root, 0)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	if err := s.Set(ctx, "ns", "key1", []byte(`{"v":1}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "ns", "key1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Fatalf("got %q", got)
	}

	path := s.pathFor("ns", Key("ns", "key1"))
	if filepath.Base(filepath.Dir(path)) != "ns" {
		t.Fatalf("expected namespace directory, got %s", path)
	}
}

func TestDiskStoreByteBudgetEviction(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewDiskStore(root, 10)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	_ = s.Set(ctx, "ns", "a", []byte("12345"), 0)
	_ = s.Set(ctx, "ns", "b", []byte("12345"), 0)
	_ = s.Set(ctx, "ns", "c", []byte("12345"), 0)

	if _, err := s.Get(ctx, "ns", "a"); err != ErrNotFound {
		t.Fatalf("expected oldest entry evicted")
	}
	if s.Statistics().Evictions == 0 {
		t.Fatalf("expected at least one eviction")
	}
}

func TestKeyStableAcrossCalls(t *testing.T) {
	if Key("ns", "id") != Key("ns", "id") {
		t.Fatalf("Key should be deterministic")
	}
	if Key("ns", "id1") == Key("ns", "id2") {
		t.Fatalf("distinct identifiers should (almost certainly) hash differently")
	}
}
