package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/metrics"
	"github.com/rl1809/inventory/internal/port"
)

const (
	idempotencyKeyPrefix = "buy:"
	compensationTimeout  = 10 * time.Second
)

// PartialFailurePolicy decides what happens to lines that were already
// committed when a later line of the same buy fails.
type PartialFailurePolicy string

const (
	// KeepPartial leaves earlier lines decremented.
	KeepPartial PartialFailurePolicy = "keep"
	// Compensate restocks earlier lines in reverse order.
	Compensate PartialFailurePolicy = "compensate"
)

func ParsePartialFailurePolicy(s string) (PartialFailurePolicy, error) {
	switch PartialFailurePolicy(s) {
	case KeepPartial, "":
		return KeepPartial, nil
	case Compensate:
		return Compensate, nil
	}
	return "", fmt.Errorf("unknown partial failure policy %q", s)
}

type QuantityAdjuster interface {
	AdjustQuantity(ctx context.Context, itemID string, delta int) (*domain.Adjustment, error)
}

type PurchaseService struct {
	ledger      QuantityAdjuster
	idempotency port.IdempotencyStore
	policy      PartialFailurePolicy
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewPurchaseService builds the coordinator. idempotency may be nil, in which
// case BuyOnce behaves like Buy.
func NewPurchaseService(ledger QuantityAdjuster, idempotency port.IdempotencyStore, policy PartialFailurePolicy, m *metrics.Metrics, logger *zap.Logger) *PurchaseService {
	return &PurchaseService{
		ledger:      ledger,
		idempotency: idempotency,
		policy:      policy,
		metrics:     m,
		logger:      logger,
	}
}

// Buy decrements every line in order and prices the purchase at the price
// each item had when it was adjusted. It stops at the first line that cannot
// be satisfied; that outcome is reported in the result, not as an error.
// A returned error means the store failed or the input was invalid.
func (s *PurchaseService) Buy(ctx context.Context, lines []domain.PurchaseLine) (*domain.PurchaseResult, error) {
	result, _, err := s.buy(ctx, lines)
	return result, err
}

// BuyOnce is Buy guarded by a request id. A second call with the same id
// returns domain.ErrDuplicateRequest without touching stock.
func (s *PurchaseService) BuyOnce(ctx context.Context, requestID string, lines []domain.PurchaseLine) (*domain.PurchaseResult, error) {
	if requestID == "" || s.idempotency == nil {
		return s.Buy(ctx, lines)
	}

	key := idempotencyKeyPrefix + requestID
	ok, err := s.idempotency.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if !ok {
		s.metrics.Purchases.WithLabelValues(metrics.ResultDuplicate).Inc()
		return nil, domain.ErrDuplicateRequest
	}

	result, applied, err := s.buy(ctx, lines)
	if err != nil && applied == 0 {
		// nothing stuck, let the client retry with the same id
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := s.idempotency.ReleaseIdempotency(releaseCtx, key); relErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
	}
	return result, err
}

// buy also reports how many lines are still applied when it returns.
func (s *PurchaseService) buy(ctx context.Context, lines []domain.PurchaseLine) (*domain.PurchaseResult, int, error) {
	ctx, span := tracer.Start(ctx, "PurchaseService.Buy", trace.WithAttributes(
		attribute.Int("lines", len(lines)),
		attribute.String("policy", string(s.policy)),
	))
	defer span.End()

	for _, line := range lines {
		if err := line.Validate(); err != nil {
			s.metrics.Purchases.WithLabelValues(metrics.ResultInvalid).Inc()
			return nil, 0, err
		}
	}

	total := decimal.Zero
	committed := make([]domain.PurchaseLine, 0, len(lines))

	for _, line := range lines {
		adj, err := s.ledger.AdjustQuantity(ctx, line.ItemID, -line.Qty)
		if err != nil {
			compensated := s.compensate(ctx, committed)
			applied := len(committed)
			if compensated {
				applied = 0
			}
			span.SetAttributes(attribute.String("failed.item.id", line.ItemID))

			if domain.IsBusinessFailure(err) {
				s.metrics.Purchases.WithLabelValues(metrics.ResultFailed).Inc()
				s.logger.Info("purchase rejected",
					zap.String("item_id", line.ItemID),
					zap.Int("committed_lines", len(committed)),
					zap.Bool("compensated", compensated),
					zap.Error(err),
				)
				result := domain.FailedPurchase(line.ItemID, err)
				result.Compensated = compensated
				return result, applied, nil
			}

			s.metrics.Purchases.WithLabelValues(metrics.ResultError).Inc()
			span.SetStatus(codes.Error, err.Error())
			return nil, applied, fmt.Errorf("buy item %s: %w", line.ItemID, err)
		}

		committed = append(committed, line)
		total = total.Add(adj.Item.Price.Mul(decimal.NewFromInt(int64(line.Qty))))
	}

	s.metrics.Purchases.WithLabelValues(metrics.ResultOK).Inc()
	span.SetAttributes(attribute.String("total_price", total.String()))

	return &domain.PurchaseResult{Success: true, TotalPrice: total}, len(committed), nil
}

// compensate restocks committed lines under the Compensate policy and
// reports whether all of them were reversed.
func (s *PurchaseService) compensate(ctx context.Context, committed []domain.PurchaseLine) bool {
	if s.policy != Compensate || len(committed) == 0 {
		return false
	}

	// the buyer may have gone away; the reversal must still run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	ok := true
	for i := len(committed) - 1; i >= 0; i-- {
		line := committed[i]
		if _, err := s.ledger.AdjustQuantity(ctx, line.ItemID, line.Qty); err != nil {
			ok = false
			s.metrics.Compensations.WithLabelValues(metrics.ResultError).Inc()
			s.logger.Error("CRITICAL compensation failed",
				zap.String("item_id", line.ItemID),
				zap.Int("qty", line.Qty),
				zap.Error(err),
			)
			continue
		}
		s.metrics.Compensations.WithLabelValues(metrics.ResultOK).Inc()
	}
	return ok
}
