package port

import (
	"context"

	"github.com/rl1809/inventory/internal/core/domain"
)

type ItemStore interface {
	// CreateItem inserts a new item and returns the id assigned by the store
	CreateItem(ctx context.Context, fields domain.ItemFields) (string, error)

	// GetItem reads an item outside any transaction, domain.ErrNotFound if absent
	GetItem(ctx context.Context, id string) (*domain.Item, error)

	// DeleteItem removes an item; deleting a missing id is not an error
	DeleteItem(ctx context.Context, id string) error

	// SearchItems runs a free-text search, best match first
	SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error)

	// WithinTx runs fn in a store transaction. The transaction commits when fn
	// returns nil and rolls back otherwise. A commit rejected because a record
	// changed underneath returns domain.ErrWriteConflict.
	WithinTx(ctx context.Context, fn func(tx ItemTx) error) error
}

// ItemTx is the view of the store inside a transaction.
type ItemTx interface {
	GetItem(ctx context.Context, id string) (*domain.Item, error)

	// SetQuantity writes qty if the stored version still equals expectedVersion
	SetQuantity(ctx context.Context, id string, qty int, expectedVersion int) error

	// ReplaceItem overwrites every writable field. expectedVersion may be
	// domain.AnyVersion. Returns domain.ErrNotFound when no record matched.
	ReplaceItem(ctx context.Context, id string, fields domain.ItemFields, expectedVersion int) error
}
