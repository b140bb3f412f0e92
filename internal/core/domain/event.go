package domain

import "time"

type StockEventType string

const (
	EventItemCreated   StockEventType = "item.created"
	EventItemUpdated   StockEventType = "item.updated"
	EventItemDeleted   StockEventType = "item.deleted"
	EventStockAdjusted StockEventType = "stock.adjusted"
)

type StockEvent struct {
	Type        StockEventType `json:"type"`
	ItemID      string         `json:"item_id"`
	SKU         string         `json:"sku,omitempty"`
	Name        string         `json:"name,omitempty"`
	Delta       int            `json:"delta"`
	PreviousQty int            `json:"previous_qty"`
	NewQty      int            `json:"new_qty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

func NewAdjustedEvent(adj Adjustment, at time.Time) StockEvent {
	return StockEvent{
		Type:        EventStockAdjusted,
		ItemID:      adj.Item.ID,
		SKU:         adj.Item.SKU,
		Name:        adj.Item.Name,
		Delta:       adj.Delta(),
		PreviousQty: adj.Item.Qty,
		NewQty:      adj.NewQty,
		OccurredAt:  at,
	}
}
