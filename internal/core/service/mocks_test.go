package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/adapter/storage"
	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/metrics"
	"github.com/rl1809/inventory/internal/port"
)

var errConnectionRefused = errors.New("dial tcp 127.0.0.1:3306: connection refused")

// fastRetry keeps retrying conflicts long enough for any test contention.
var fastRetry = RetryPolicy{
	MaxAttempts:    1000,
	InitialBackoff: 50 * time.Microsecond,
	MaxBackoff:     time.Millisecond,
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func seedItem(t *testing.T, store port.ItemStore, name string, qty int, price string) string {
	t.Helper()

	id, err := store.CreateItem(context.Background(), domain.ItemFields{
		Name:  name,
		Qty:   qty,
		Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return id
}

func qtyOf(t *testing.T, store port.ItemStore, id string) int {
	t.Helper()

	item, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Qty
}

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.StockEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []domain.StockEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.StockEvent(nil), p.events...)
}

// conflictingStore rejects the first conflicts quantity writes as if another
// writer had committed first. A negative value rejects every write.
type conflictingStore struct {
	port.ItemStore

	mu        sync.Mutex
	conflicts int
	writes    int
}

func newConflictingStore(conflicts int) *conflictingStore {
	return &conflictingStore{ItemStore: storage.NewMemoryAdapter(), conflicts: conflicts}
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn func(tx port.ItemTx) error) error {
	return s.ItemStore.WithinTx(ctx, func(tx port.ItemTx) error {
		return fn(&conflictingTx{ItemTx: tx, store: s})
	})
}

func (s *conflictingStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type conflictingTx struct {
	port.ItemTx
	store *conflictingStore
}

func (t *conflictingTx) SetQuantity(ctx context.Context, id string, qty int, expectedVersion int) error {
	t.store.mu.Lock()
	t.store.writes++
	reject := t.store.conflicts != 0
	if t.store.conflicts > 0 {
		t.store.conflicts--
	}
	t.store.mu.Unlock()

	if reject {
		return storage.ErrOptimisticLock
	}
	return t.ItemTx.SetQuantity(ctx, id, qty, expectedVersion)
}

// brokenStore fails every transaction with an I/O error.
type brokenStore struct {
	port.ItemStore
	attempts int
}

func (s *brokenStore) WithinTx(ctx context.Context, fn func(tx port.ItemTx) error) error {
	s.attempts++
	return fmt.Errorf("begin tx: %w", errConnectionRefused)
}

// Mock IdempotencyStore
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (m *memoryIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memoryIdempotency) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key]
}

type adjustCall struct {
	itemID string
	delta  int
}

// scriptedAdjuster answers adjustments from a per-item script and records
// every call it receives.
type scriptedAdjuster struct {
	mu     sync.Mutex
	calls  []adjustCall
	errs   map[string]error
	prices map[string]decimal.Decimal
}

func (a *scriptedAdjuster) AdjustQuantity(ctx context.Context, itemID string, delta int) (*domain.Adjustment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, adjustCall{itemID: itemID, delta: delta})
	if err := a.errs[itemID]; err != nil && delta < 0 {
		return nil, err
	}
	return &domain.Adjustment{
		Item:   domain.Item{ID: itemID, Name: itemID, Qty: 100, Price: a.prices[itemID]},
		NewQty: 100 + delta,
	}, nil
}

func newTestLogger() *zap.Logger {
	return zap.NewNop()
}
