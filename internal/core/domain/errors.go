package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("item not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrWriteConflict       = errors.New("write conflict")
	ErrStoreUnavailable    = errors.New("item store unavailable")
	ErrInvalidItem         = errors.New("invalid item")
	ErrInvalidPurchaseLine = errors.New("invalid purchase line")
	ErrInvalidSearchTerm   = errors.New("search term is required")
	ErrDuplicateRequest    = errors.New("duplicate request")
)

// InsufficientStockError is returned when an adjustment would drive the
// quantity below zero.
type InsufficientStockError struct {
	ItemID    string
	ItemName  string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Not enough inventory. Only %d items left for %s", e.Available, e.ItemName)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IsBusinessFailure reports whether err is an expected outcome rather than a
// fault of the service or its store.
func IsBusinessFailure(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientStock)
}
