package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/port"
)

// MemoryAdapter is a process-local item store with the same optimistic
// transaction semantics as MySQLAdapter. Transactions read committed state
// and buffer their writes; commit re-checks every expected version.
type MemoryAdapter struct {
	mu    sync.RWMutex
	items map[string]domain.Item
	now   func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items: make(map[string]domain.Item),
		now:   time.Now,
	}
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, f domain.ItemFields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := uuid.NewString()
	m.items[id] = domain.Item{
		ID:          id,
		Name:        f.Name,
		Variant:     f.Variant,
		SKU:         f.SKU,
		Qty:         f.Qty,
		Description: f.Description,
		Price:       f.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (m *MemoryAdapter) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// SearchItems ranks items by how many tokens of their text fields equal a
// token of the term, ignoring case.
func (m *MemoryAdapter) SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := make(map[string]bool)
	for _, w := range tokenize(term) {
		words[w] = true
	}

	type hit struct {
		item  domain.Item
		score int
	}

	m.mu.RLock()
	hits := make([]hit, 0)
	for _, item := range m.items {
		score := 0
		for _, token := range tokenize(item.Name, item.Variant, item.SKU, item.Description) {
			if words[token] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{item: item, score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].item.ID < hits[j].item.ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	items := make([]domain.Item, len(hits))
	for i, h := range hits {
		items[i] = h.item
	}
	return items, nil
}

func tokenize(texts ...string) []string {
	isSeparator := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}

	var tokens []string
	for _, text := range texts {
		tokens = append(tokens, strings.FieldsFunc(strings.ToLower(text), isSeparator)...)
	}
	return tokens
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.ItemTx) error) error {
	tx := &memoryTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	// a cancelled caller must not see its writes applied
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.commit(tx.writes)
}

type memoryWrite struct {
	id              string
	expectedVersion int
	qty             int
	fields          *domain.ItemFields // nil for a quantity-only write
}

func (m *MemoryAdapter) commit(writes []memoryWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		current, ok := m.items[w.id]
		if !ok {
			if w.fields != nil && w.expectedVersion == domain.AnyVersion {
				return domain.ErrNotFound
			}
			return ErrOptimisticLock
		}
		if w.expectedVersion != domain.AnyVersion && current.Version != w.expectedVersion {
			return ErrOptimisticLock
		}
		if w.qty < 0 || w.qty > domain.MaxQty {
			return domain.ErrInvalidItem
		}
	}

	now := m.now()
	for _, w := range writes {
		item := m.items[w.id]
		if w.fields != nil {
			item.Name = w.fields.Name
			item.Variant = w.fields.Variant
			item.SKU = w.fields.SKU
			item.Description = w.fields.Description
			item.Price = w.fields.Price
		}
		item.Qty = w.qty
		item.Version++
		item.UpdatedAt = now
		m.items[w.id] = item
	}
	return nil
}

type memoryTx struct {
	store  *MemoryAdapter
	writes []memoryWrite
}

func (t *memoryTx) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return t.store.GetItem(ctx, id)
}

func (t *memoryTx) SetQuantity(ctx context.Context, id string, qty int, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.writes = append(t.writes, memoryWrite{id: id, expectedVersion: expectedVersion, qty: qty})
	return nil
}

func (t *memoryTx) ReplaceItem(ctx context.Context, id string, f domain.ItemFields, expectedVersion int) error {
	if _, err := t.store.GetItem(ctx, id); err != nil {
		return err
	}
	fields := f
	t.writes = append(t.writes, memoryWrite{id: id, expectedVersion: expectedVersion, qty: f.Qty, fields: &fields})
	return nil
}
