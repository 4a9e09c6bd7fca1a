// Package cache provides the hub's tiered cache: a small in-process map in
// front of an optional distributed store, with the authoritative loader as
// the final tier. Staleness and degrade-on-unavailable logic live here so
// call sites never hand-wire multi-level lookups.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// Store is the distributed tier-2 backend. A nil Store disables tier 2.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// LoaderFunc produces the authoritative value for a key on a full miss.
type LoaderFunc[V any] func(ctx context.Context) (V, error)

// Options configures a Tiered cache instance.
type Options struct {
	LocalTTL   time.Duration
	MaxEntries int
	RemoteTTL  time.Duration
	KeyPrefix  string
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	LocalHits     uint64
	RemoteHits    uint64
	Loads         uint64
	RemoteErrors  uint64
	Invalidations uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Tiered is a three-level cache: process-local map, optional distributed
// store, and the loader as source of truth. Values crossing tier 2 are
// JSON-serialized; construct with a nil Store for values that must stay
// in-process (live object graphs such as crews).
type Tiered[V any] struct {
	mu     sync.RWMutex
	local  map[string]entry[V]
	remote Store
	opts   Options
	logger *slog.Logger

	localHits     atomic.Uint64
	remoteHits    atomic.Uint64
	loads         atomic.Uint64
	remoteErrors  atomic.Uint64
	invalidations atomic.Uint64
}

// NewTiered creates a tiered cache. remote may be nil (tier 2 disabled).
func NewTiered[V any](opts Options, remote Store, logger *slog.Logger) *Tiered[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = 5 * time.Minute
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = 30 * time.Minute
	}
	return &Tiered[V]{
		local:  make(map[string]entry[V]),
		remote: remote,
		opts:   opts,
		logger: logger,
	}
}

// Get consults the tiers in order, back-filling on the way out. A tier-2
// failure degrades to a miss at that tier and is never fatal; only the
// loader's error propagates to the caller.
func (t *Tiered[V]) Get(ctx context.Context, key string, load LoaderFunc[V]) (V, error) {
	if v, ok := t.Peek(key); ok {
		t.localHits.Add(1)
		return v, nil
	}

	if t.remote != nil {
		if v, ok := t.remoteGet(ctx, key); ok {
			t.remoteHits.Add(1)
			t.localPut(key, v)
			return v, nil
		}
	}

	var zero V
	if load == nil {
		return zero, domain.NewDomainError("TieredCache.Get", domain.ErrCacheUnavailable, "no loader for "+key)
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}
	t.loads.Add(1)
	t.Put(ctx, key, v)
	return v, nil
}

// Peek returns a fresh tier-1 value without consulting lower tiers.
func (t *Tiered[V]) Peek(key string) (V, bool) {
	t.mu.RLock()
	e, ok := t.local[key]
	t.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put writes through to tier 1 and, when configured, tier 2.
func (t *Tiered[V]) Put(ctx context.Context, key string, value V) {
	t.localPut(key, value)
	if t.remote == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		t.logger.Debug("cache value not serializable, tier 2 skipped", "key", key, "error", err)
		return
	}
	if err := t.remote.Set(ctx, t.remoteKey(key), data, t.opts.RemoteTTL); err != nil {
		t.remoteErrors.Add(1)
		t.logger.Debug("tier 2 set failed", "key", key, "error", err)
	}
}

// Invalidate removes the key from tiers 1 and 2. It never touches the
// source of truth.
func (t *Tiered[V]) Invalidate(ctx context.Context, key string) {
	t.invalidations.Add(1)
	t.mu.Lock()
	delete(t.local, key)
	t.mu.Unlock()

	if t.remote != nil {
		if err := t.remote.Del(ctx, t.remoteKey(key)); err != nil {
			t.remoteErrors.Add(1)
			t.logger.Debug("tier 2 delete failed", "key", key, "error", err)
		}
	}
}

// Len returns the number of tier-1 entries, expired included.
func (t *Tiered[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.local)
}

// Snapshot returns current counter values.
func (t *Tiered[V]) Snapshot() Stats {
	return Stats{
		LocalHits:     t.localHits.Load(),
		RemoteHits:    t.remoteHits.Load(),
		Loads:         t.loads.Load(),
		RemoteErrors:  t.remoteErrors.Load(),
		Invalidations: t.invalidations.Load(),
	}
}

func (t *Tiered[V]) remoteGet(ctx context.Context, key string) (V, bool) {
	var zero V
	data, ok, err := t.remote.Get(ctx, t.remoteKey(key))
	if err != nil {
		t.remoteErrors.Add(1)
		t.logger.Debug("tier 2 get failed", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		t.logger.Debug("tier 2 value corrupt, treating as miss", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (t *Tiered[V]) localPut(key string, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.local) >= t.opts.MaxEntries {
		t.evictLocked()
	}
	t.local[key] = entry[V]{value: value, expiresAt: time.Now().Add(t.opts.LocalTTL)}
}

// evictLocked drops expired entries first; if everything is fresh, one
// arbitrary entry is dropped to make room.
func (t *Tiered[V]) evictLocked() {
	now := time.Now()
	for k, e := range t.local {
		if now.After(e.expiresAt) {
			delete(t.local, k)
		}
	}
	if len(t.local) >= t.opts.MaxEntries {
		for k := range t.local {
			delete(t.local, k)
			break
		}
	}
}

func (t *Tiered[V]) remoteKey(key string) string {
	if t.opts.KeyPrefix == "" {
		return key
	}
	return t.opts.KeyPrefix + ":" + key
}
