package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/metrics"
	"github.com/rl1809/inventory/internal/port"
)

const DefaultSearchLimit = 50

type CatalogService struct {
	store       port.ItemStore
	publisher   port.EventPublisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	searchLimit int
	now         func() time.Time
}

func NewCatalogService(store port.ItemStore, publisher port.EventPublisher, m *metrics.Metrics, logger *zap.Logger, searchLimit int) *CatalogService {
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	return &CatalogService{
		store:       store,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		searchLimit: searchLimit,
		now:         time.Now,
	}
}

func (s *CatalogService) CreateItem(ctx context.Context, fields domain.ItemFields) (string, error) {
	if err := fields.Validate(); err != nil {
		return "", err
	}

	id, err := s.store.CreateItem(ctx, fields)
	if err != nil {
		return "", storeError("create item", err)
	}

	s.logger.Info("item created", zap.String("item_id", id), zap.String("sku", fields.SKU))
	publishEvent(ctx, s.publisher, s.metrics, s.logger, domain.StockEvent{
		Type:       domain.EventItemCreated,
		ItemID:     id,
		SKU:        fields.SKU,
		Name:       fields.Name,
		Delta:      fields.Qty,
		NewQty:     fields.Qty,
		OccurredAt: s.now(),
	})

	return id, nil
}

// UpdateItem replaces every field of the item, quantity included.
func (s *CatalogService) UpdateItem(ctx context.Context, id string, fields domain.ItemFields) error {
	return s.replace(ctx, id, fields, domain.AnyVersion)
}

// UpdateItemIfVersion replaces the item only while its version still equals
// version, otherwise it returns domain.ErrWriteConflict.
func (s *CatalogService) UpdateItemIfVersion(ctx context.Context, id string, fields domain.ItemFields, version int) error {
	return s.replace(ctx, id, fields, version)
}

func (s *CatalogService) replace(ctx context.Context, id string, fields domain.ItemFields, version int) error {
	// a full replace may set qty directly, so the invariant is checked here too
	if err := fields.Validate(); err != nil {
		return err
	}

	var previous domain.Item
	err := s.store.WithinTx(ctx, func(tx port.ItemTx) error {
		current, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if version != domain.AnyVersion && current.Version != version {
			return fmt.Errorf("item %s is at version %d, not %d: %w", id, current.Version, version, domain.ErrWriteConflict)
		}
		previous = *current
		return tx.ReplaceItem(ctx, id, fields, version)
	})
	if err != nil {
		return storeError("update item", err)
	}

	publishEvent(ctx, s.publisher, s.metrics, s.logger, domain.StockEvent{
		Type:        domain.EventItemUpdated,
		ItemID:      id,
		SKU:         fields.SKU,
		Name:        fields.Name,
		Delta:       fields.Qty - previous.Qty,
		PreviousQty: previous.Qty,
		NewQty:      fields.Qty,
		OccurredAt:  s.now(),
	})

	return nil
}

// DeleteItem is idempotent: deleting a missing item succeeds.
func (s *CatalogService) DeleteItem(ctx context.Context, id string) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return storeError("delete item", err)
	}

	publishEvent(ctx, s.publisher, s.metrics, s.logger, domain.StockEvent{
		Type:       domain.EventItemDeleted,
		ItemID:     id,
		OccurredAt: s.now(),
	})

	return nil
}

// Search delegates ranking to the store's full-text capability.
func (s *CatalogService) Search(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domain.ErrInvalidSearchTerm
	}
	if limit <= 0 || limit > s.searchLimit {
		limit = s.searchLimit
	}

	items, err := s.store.SearchItems(ctx, term, limit)
	if err != nil {
		return nil, storeError("search items", err)
	}
	return items, nil
}
