package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AnyVersion disables the version check on a conditional write.
	AnyVersion = -1

	// MaxQty is the largest quantity the items table can hold.
	MaxQty = math.MaxInt32
)

type Item struct {
	ID          string
	Name        string
	Variant     string
	SKU         string
	Qty         int
	Description string
	Price       decimal.Decimal
	Version     int // optimistic locking
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemFields holds every writable attribute of an item.
type ItemFields struct {
	Name        string
	Variant     string
	SKU         string
	Qty         int
	Description string
	Price       decimal.Decimal
}

func (f ItemFields) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if f.Qty < 0 {
		return fmt.Errorf("%w: qty must not be negative", ErrInvalidItem)
	}
	if f.Qty > MaxQty {
		return fmt.Errorf("%w: qty must not exceed %d", ErrInvalidItem, MaxQty)
	}
	if f.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	}
	return nil
}

func (i Item) Fields() ItemFields {
	return ItemFields{
		Name:        i.Name,
		Variant:     i.Variant,
		SKU:         i.SKU,
		Qty:         i.Qty,
		Description: i.Description,
		Price:       i.Price,
	}
}

// Adjustment is the outcome of a committed quantity change. Item is the
// snapshot read before the change.
type Adjustment struct {
	Item   Item
	NewQty int
}

func (a Adjustment) Delta() int {
	return a.NewQty - a.Item.Qty
}
