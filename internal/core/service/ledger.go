package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/metrics"
	"github.com/rl1809/inventory/internal/port"
)

var tracer = otel.Tracer("github.com/rl1809/inventory/internal/core/service")

// Ledger owns every quantity change. It never caches an item between calls:
// each adjustment re-reads the item inside its own store transaction and
// writes back conditioned on the version it read.
type Ledger struct {
	store     port.ItemStore
	publisher port.EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	retry     RetryPolicy
	now       func() time.Time
}

func NewLedger(store port.ItemStore, publisher port.EventPublisher, m *metrics.Metrics, logger *zap.Logger, retry RetryPolicy) *Ledger {
	return &Ledger{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		retry:     retry,
		now:       time.Now,
	}
}

func (l *Ledger) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, storeError("get item", err)
	}
	return item, nil
}

// AdjustQuantity applies delta to the item's quantity. On success it returns
// the item as it was before the change together with the new quantity.
func (l *Ledger) AdjustQuantity(ctx context.Context, itemID string, delta int) (*domain.Adjustment, error) {
	ctx, span := tracer.Start(ctx, "Ledger.AdjustQuantity", trace.WithAttributes(
		attribute.String("item.id", itemID),
		attribute.Int("delta", delta),
	))
	defer span.End()

	var (
		adj      *domain.Adjustment
		attempts int
	)
	op := func() error {
		attempts++
		result, err := l.adjustOnce(ctx, itemID, delta)
		if err == nil {
			adj = result
			return nil
		}
		if errors.Is(err, domain.ErrWriteConflict) {
			l.metrics.WriteConflicts.Inc()
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		l.logger.Debug("write conflict, retrying adjustment",
			zap.String("item_id", itemID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
	}

	if err := backoff.RetryNotify(op, l.retry.newBackOff(ctx), notify); err != nil {
		if errors.Is(err, domain.ErrWriteConflict) {
			err = fmt.Errorf("adjust item %s gave up after %d attempts: %w: %w",
				itemID, attempts, domain.ErrStoreUnavailable, err)
		} else {
			err = storeError("adjust item "+itemID, err)
		}

		l.metrics.Adjustments.WithLabelValues(resultLabel(err)).Inc()
		span.SetAttributes(attribute.Int("attempts", attempts))
		if !domain.IsBusinessFailure(err) && !errors.Is(err, domain.ErrInvalidItem) {
			span.SetStatus(codes.Error, err.Error())
			l.logger.Error("adjustment failed",
				zap.String("item_id", itemID),
				zap.Int("delta", delta),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		return nil, err
	}

	l.metrics.Adjustments.WithLabelValues(metrics.ResultOK).Inc()
	span.SetAttributes(attribute.Int("attempts", attempts), attribute.Int("qty.new", adj.NewQty))
	l.publish(ctx, domain.NewAdjustedEvent(*adj, l.now()))

	return adj, nil
}

// Restock adds a single unit.
func (l *Ledger) Restock(ctx context.Context, itemID string) (*domain.Adjustment, error) {
	return l.AdjustQuantity(ctx, itemID, 1)
}

// Consume removes a single unit.
func (l *Ledger) Consume(ctx context.Context, itemID string) (*domain.Adjustment, error) {
	return l.AdjustQuantity(ctx, itemID, -1)
}

func (l *Ledger) adjustOnce(ctx context.Context, itemID string, delta int) (*domain.Adjustment, error) {
	var adj *domain.Adjustment

	err := l.store.WithinTx(ctx, func(tx port.ItemTx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}

		if delta > 0 && item.Qty > domain.MaxQty-delta {
			return fmt.Errorf("%w: qty of item %s would exceed %d", domain.ErrInvalidItem, item.ID, domain.MaxQty)
		}

		newQty := item.Qty + delta
		if newQty < 0 {
			return &domain.InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Available: item.Qty,
				Requested: -delta,
			}
		}

		if err := tx.SetQuantity(ctx, item.ID, newQty, item.Version); err != nil {
			return err
		}

		adj = &domain.Adjustment{Item: *item, NewQty: newQty}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return adj, nil
}

func (l *Ledger) publish(ctx context.Context, event domain.StockEvent) {
	publishEvent(ctx, l.publisher, l.metrics, l.logger, event)
}

// publishEvent runs after the write committed, so a failure is only logged.
func publishEvent(ctx context.Context, publisher port.EventPublisher, m *metrics.Metrics, logger *zap.Logger, event domain.StockEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		m.EventPublishFailures.Inc()
		logger.Warn("failed to publish stock event",
			zap.String("type", string(event.Type)),
			zap.String("item_id", event.ItemID),
			zap.Error(err),
		)
	}
}
