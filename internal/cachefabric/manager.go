package cachefabric

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tier identifies which layer served a read.
type Tier int

const (
	TierMiss Tier = iota
	TierL1
	TierL2
)

func (t Tier) String() string {
	switch t {
	case TierL1:
		return "l1"
	case TierL2:
		return "l2"
	default:
		return "miss"
	}
}

// ManagerStats are atomic counters surfaced at /admin/cache/stats.
type ManagerStats struct {
	L1Hits      atomic.Int64
	L2Hits      atomic.Int64
	Misses      atomic.Int64
	Computes    atomic.Int64
	Coalesced   atomic.Int64
	L2WriteErrs atomic.Int64
}

// l2Store is the subset of *L2 the Manager depends on, kept as an
// interface so tests can substitute an in-process fake instead of a real
// Redis instance.
type l2Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	DeleteMany(ctx context.Context, keys []string) (int, error)
}

// Manager is the Cache Manager (C7): L1 in front of L2, with singleflight
// coalescing so concurrent misses for the same key trigger exactly one
// compute. Grounded on the pack's O-tero-Distributed-Caching-System
// cache-manager/service.go (coalescer.Do wrapping L1-miss -> L2-miss ->
// origin-fetch, with synchronous L1 fill and best-effort L2 write-back).
type Manager struct {
	l1    *L1
	l2    l2Store
	group singleflight.Group
	stats ManagerStats
}

func NewManager(l1 *L1, l2 l2Store) *Manager {
	return &Manager{l1: l1, l2: l2}
}

// Get reads key, trying L1 then L2. An L2 hit is promoted into L1 (using the
// strategy's L1 TTL/TTI) before returning, satisfying the promotion
// invariant (P2): a caller that reads again immediately afterward must see
// an L1 hit.
func (m *Manager) Get(ctx context.Context, key string, s Strategy) ([]byte, Tier, bool) {
	if v, ok := m.l1.Get(key); ok {
		m.stats.L1Hits.Add(1)
		return v, TierL1, true
	}

	v, ok, err := m.l2.Get(ctx, key)
	if err != nil || !ok {
		m.stats.Misses.Add(1)
		return nil, TierMiss, false
	}

	m.l1.Insert(key, v, s.L1TTL, s.L1TTI)
	m.stats.L2Hits.Add(1)
	return v, TierL2, true
}

// SetWithStrategy writes through to both tiers. The L1 write always
// happens; an L2 write failure is counted in L2WriteErrs and returned, and
// callers that treat L2 as best-effort (getOrCompute, the summary handler)
// discard it — an L1-only value is still useful to this process, and L2
// will be repopulated on the next compute.
func (m *Manager) SetWithStrategy(ctx context.Context, key string, value []byte, s Strategy) error {
	m.l1.Insert(key, value, s.L1TTL, s.L1TTI)
	if err := m.l2.Set(ctx, key, value, s.L2TTL); err != nil {
		m.stats.L2WriteErrs.Add(1)
		return err
	}
	return nil
}

// GetOrCompute is the primary entry point for provider-backed reads: on a
// full miss, exactly one caller per key runs compute while concurrent
// callers for the same key block on its result (I4's single-flight
// exactness, P1).
func (m *Manager) GetOrCompute(ctx context.Context, key string, s Strategy, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return m.getOrCompute(ctx, key, s, compute, false)
}

// GetOrComputeForce recomputes key unconditionally, skipping both the L1
// and L2 read paths, but still writes the fresh result back through both
// tiers afterward — the `force_realtime_refresh=true` behavior spec.md §8
// documents for the dashboard-summary refresh endpoint. Concurrent forced
// and unforced callers for the same key still coalesce through the same
// singleflight group.
func (m *Manager) GetOrComputeForce(ctx context.Context, key string, s Strategy, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return m.getOrCompute(ctx, key, s, compute, true)
}

func (m *Manager) getOrCompute(ctx context.Context, key string, s Strategy, compute func(ctx context.Context) ([]byte, error), forceMiss bool) ([]byte, error) {
	if !forceMiss {
		if v, _, ok := m.Get(ctx, key, s); ok {
			return v, nil
		}
	}

	v, err, shared := m.group.Do(key, func() (any, error) {
		if !forceMiss {
			if v, _, ok := m.Get(ctx, key, s); ok {
				return v, nil
			}
		}
		m.stats.Computes.Add(1)
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		_ = m.SetWithStrategy(ctx, key, result, s)
		return result, nil
	})
	if shared {
		m.stats.Coalesced.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate removes key from both tiers.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.l1.Invalidate(key)
	_, _ = m.l2.DeleteMany(ctx, []string{key})
}

// InvalidateAll clears L1 and every L2 key matching pattern (used by
// /admin/cache/clear).
func (m *Manager) InvalidateAll(ctx context.Context, pattern string) (int, error) {
	m.l1.InvalidateAll()
	keys, err := m.l2.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return m.l2.DeleteMany(ctx, keys)
}

// ManagerStatsSnapshot is a plain-value copy of ManagerStats for callers
// that need to pass stats around (e.g. JSON-encode them) without touching
// the live atomics.
type ManagerStatsSnapshot struct {
	L1Hits      int64
	L2Hits      int64
	Misses      int64
	Computes    int64
	Coalesced   int64
	L2WriteErrs int64
}

// Stats returns the manager's counters plus the L1 tier's own stats.
func (m *Manager) Stats() (ManagerStatsSnapshot, L1Stats) {
	snap := ManagerStatsSnapshot{
		L1Hits:      m.stats.L1Hits.Load(),
		L2Hits:      m.stats.L2Hits.Load(),
		Misses:      m.stats.Misses.Load(),
		Computes:    m.stats.Computes.Load(),
		Coalesced:   m.stats.Coalesced.Load(),
		L2WriteErrs: m.stats.L2WriteErrs.Load(),
	}
	return snap, m.l1.Stats()
}
