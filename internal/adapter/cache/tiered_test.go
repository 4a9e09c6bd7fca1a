package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// memStore is an in-process Store for exercising the distributed tier
// without a live server.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte

	getErr error
	setErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func countingLoader(value string, calls *int) LoaderFunc[string] {
	return func(context.Context) (string, error) {
		*calls++
		return value, nil
	}
}

func TestGetLoadsOnceThenServesLocal(t *testing.T) {
	c := NewTiered[string](Options{}, nil, slog.Default())
	ctx := context.Background()
	calls := 0

	for i := 0; i < 3; i++ {
		v, err := c.Get(ctx, "k", countingLoader("v", &calls))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if v != "v" {
			t.Fatalf("value = %q", v)
		}
	}
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}
	stats := c.Snapshot()
	if stats.LocalHits != 2 || stats.Loads != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetFallsBackToRemoteAndBackfills(t *testing.T) {
	remote := newMemStore()
	data, _ := json.Marshal("cached")
	remote.data["hub:k"] = data

	c := NewTiered[string](Options{KeyPrefix: "hub"}, remote, slog.Default())
	ctx := context.Background()
	calls := 0

	v, err := c.Get(ctx, "k", countingLoader("fresh", &calls))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "cached" {
		t.Errorf("value = %q, want the tier-2 value", v)
	}
	if calls != 0 {
		t.Errorf("loader calls = %d, want 0", calls)
	}

	// Back-filled into tier 1: a remote outage must not cause a reload.
	remote.getErr = errors.New("connection refused")
	if v, _ := c.Get(ctx, "k", countingLoader("fresh", &calls)); v != "cached" {
		t.Errorf("after backfill: value = %q", v)
	}
	if calls != 0 {
		t.Errorf("loader called after backfill")
	}
}

func TestRemoteFailureDegradesToLoader(t *testing.T) {
	remote := newMemStore()
	remote.getErr = errors.New("connection refused")
	remote.setErr = errors.New("connection refused")

	c := NewTiered[string](Options{}, remote, slog.Default())
	calls := 0

	v, err := c.Get(context.Background(), "k", countingLoader("v", &calls))
	if err != nil {
		t.Fatalf("tier-2 outage must not fail the lookup: %v", err)
	}
	if v != "v" || calls != 1 {
		t.Errorf("value = %q calls = %d", v, calls)
	}
	if c.Snapshot().RemoteErrors == 0 {
		t.Error("remote errors not counted")
	}
}

func TestCorruptRemoteValueTreatedAsMiss(t *testing.T) {
	remote := newMemStore()
	remote.data["k"] = []byte("{not json")

	c := NewTiered[string](Options{}, remote, slog.Default())
	calls := 0

	v, err := c.Get(context.Background(), "k", countingLoader("v", &calls))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "v" || calls != 1 {
		t.Errorf("value = %q calls = %d, want loader result", v, calls)
	}
}

func TestLoaderErrorPropagatesAndNothingIsCached(t *testing.T) {
	c := NewTiered[string](Options{}, nil, slog.Default())
	boom := errors.New("boom")

	_, err := c.Get(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the loader error", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not populate the cache")
	}
}

func TestInvalidateRemovesBothTiersNotSource(t *testing.T) {
	remote := newMemStore()
	c := NewTiered[string](Options{}, remote, slog.Default())
	ctx := context.Background()
	calls := 0

	if _, err := c.Get(ctx, "k", countingLoader("v1", &calls)); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.Invalidate(ctx, "k")

	if _, ok := c.Peek("k"); ok {
		t.Error("tier 1 still holds the key")
	}
	if _, ok := remote.data["k"]; ok {
		t.Error("tier 2 still holds the key")
	}

	// Next read goes back to the source of truth.
	v, err := c.Get(ctx, "k", countingLoader("v2", &calls))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "v2" || calls != 2 {
		t.Errorf("value = %q calls = %d, want reload", v, calls)
	}
}

func TestLocalTTLExpiry(t *testing.T) {
	c := NewTiered[string](Options{LocalTTL: 20 * time.Millisecond}, nil, slog.Default())
	ctx := context.Background()
	calls := 0

	if _, err := c.Get(ctx, "k", countingLoader("v", &calls)); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Peek("k"); ok {
		t.Error("expired entry served from tier 1")
	}
	if _, err := c.Get(ctx, "k", countingLoader("v", &calls)); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if calls != 2 {
		t.Errorf("loader calls = %d, want reload after expiry", calls)
	}
}

func TestEvictionKeepsLocalBounded(t *testing.T) {
	c := NewTiered[string](Options{MaxEntries: 4}, nil, slog.Default())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), "v")
	}
	if got := c.Len(); got > 4 {
		t.Errorf("local entries = %d, want at most 4", got)
	}
}

func TestGetWithoutLoaderOnFullMiss(t *testing.T) {
	c := NewTiered[string](Options{}, nil, slog.Default())

	_, err := c.Get(context.Background(), "k", nil)
	if err == nil {
		t.Fatal("expected an error on a loaderless full miss")
	}
}

func TestPutSkipsRemoteForUnserializableValues(t *testing.T) {
	remote := newMemStore()
	c := NewTiered[func()](Options{}, remote, slog.Default())
	ctx := context.Background()

	c.Put(ctx, "k", func() {})
	if len(remote.data) != 0 {
		t.Error("unserializable value written to tier 2")
	}
	if _, ok := c.Peek("k"); !ok {
		t.Error("tier 1 should still hold the value")
	}
}
