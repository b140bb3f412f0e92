package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type PurchaseLine struct {
	ItemID string
	Qty    int
}

func (l PurchaseLine) Validate() error {
	if l.ItemID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidPurchaseLine)
	}
	if l.Qty <= 0 {
		return fmt.Errorf("%w: qty for item %s must be positive", ErrInvalidPurchaseLine, l.ItemID)
	}
	return nil
}

type PurchaseResult struct {
	Success    bool
	TotalPrice decimal.Decimal

	// Set when Success is false.
	FailedItemID string
	Reason       string
	Err          error

	// Compensated reports that lines committed before the failure were reversed.
	Compensated bool
}

func FailedPurchase(itemID string, err error) *PurchaseResult {
	return &PurchaseResult{
		Success:      false,
		TotalPrice:   decimal.Zero,
		FailedItemID: itemID,
		Reason:       err.Error(),
		Err:          err,
	}
}
