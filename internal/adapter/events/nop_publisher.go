package events

import (
	"context"

	"github.com/rl1809/inventory/internal/core/domain"
)

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.StockEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
