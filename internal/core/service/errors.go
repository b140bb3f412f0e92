package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/metrics"
)

var passthrough = []error{
	domain.ErrNotFound,
	domain.ErrInsufficientStock,
	domain.ErrWriteConflict,
	domain.ErrStoreUnavailable,
	domain.ErrInvalidItem,
	domain.ErrInvalidPurchaseLine,
	domain.ErrInvalidSearchTerm,
	domain.ErrDuplicateRequest,
	context.Canceled,
	context.DeadlineExceeded,
}

// storeError leaves classified errors alone and marks everything else as a
// store failure.
func storeError(op string, err error) error {
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficientStock
	case errors.Is(err, domain.ErrWriteConflict):
		return metrics.ResultConflict
	case errors.Is(err, domain.ErrInvalidItem):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
