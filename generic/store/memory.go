// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	entries     map[generic.AccountID][]generic.Entry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[generic.AccountID][]generic.Entry),
		idempotency: make(map[string]bool),
	}
}

type txKey struct{}

// locked reports whether ctx already holds this store's lock (inside WithTx).
func (m *Memory) locked(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Memory)
	return owner == m
}

func (m *Memory) lock(ctx context.Context) func() {
	if m.locked(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) rlock(ctx context.Context) func() {
	if m.locked(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(ctx context.Context, e generic.Entry) error {
	defer m.lock(ctx)()
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(e)
	return nil
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	defer m.lock(ctx)()

	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range entries {
		m.appendLocked(e)
	}
	return nil
}

func (m *Memory) appendLocked(e generic.Entry) {
	entries := m.entries[e.AccountID]

	// Binary search for insertion point, keeping equal timestamps in arrival order
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].EffectiveAt.After(e.EffectiveAt)
	})

	entries = append(entries, generic.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.AccountID] = entries

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
}

func (m *Memory) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Entry, error) {
	defer m.rlock(ctx)()

	result := make([]generic.Entry, len(m.entries[accountID]))
	copy(result, m.entries[accountID])
	return result, nil
}

func (m *Memory) LoadByReference(ctx context.Context, referenceID string) ([]generic.Entry, error) {
	defer m.rlock(ctx)()

	var result []generic.Entry
	for _, entries := range m.entries {
		for _, e := range entries {
			if e.ReferenceID == referenceID {
				result = append(result, e)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EffectiveAt.Before(result[j].EffectiveAt)
	})
	return result, nil
}

func (m *Memory) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	defer m.rlock(ctx)()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.locked(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, m)); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) snapshot() memorySnapshot {
	entriesCopy := make(map[generic.AccountID][]generic.Entry)
	for k, v := range m.entries {
		entriesCopy[k] = append([]generic.Entry{}, v...)
	}
	idempCopy := make(map[string]bool)
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, idempotency: idempCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.idempotency = s.idempotency
}

type memorySnapshot struct {
	entries     map[generic.AccountID][]generic.Entry
	idempotency map[string]bool
}
