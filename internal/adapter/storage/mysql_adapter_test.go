package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/port"
)

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: errDeadlock}), ErrOptimisticLock)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: errLockWaitTimeout}), domain.ErrWriteConflict)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: errCheckConstraint}), domain.ErrInvalidItem)
	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: errOutOfRange}), domain.ErrInvalidItem)

	dup := &mysql.MySQLError{Number: 1062}
	assert.Equal(t, dup, classify(dup))

	plain := errors.New("driver: bad connection")
	assert.Equal(t, plain, classify(plain))
}

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/inventory?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	require.NoError(t, adapter.EnsureSchema(context.Background()))
	return adapter, db
}

func createTestItem(t *testing.T, adapter *MySQLAdapter, f domain.ItemFields) string {
	t.Helper()

	id, err := adapter.CreateItem(context.Background(), f)
	require.NoError(t, err)
	t.Cleanup(func() { adapter.DeleteItem(context.Background(), id) })
	return id
}

func TestMySQL_CreateAndGet(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()

	id := createTestItem(t, adapter, domain.ItemFields{
		Name:        "Shirt",
		Variant:     "red",
		SKU:         "SH-RED",
		Qty:         5,
		Description: "cotton",
		Price:       decimal.RequireFromString("19.99"),
	})

	item, err := adapter.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Shirt", item.Name)
	assert.Equal(t, "SH-RED", item.SKU)
	assert.Equal(t, 5, item.Qty)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 0, item.Version)

	_, err = adapter.GetItem(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMySQL_SetQuantityChecksVersion(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()
	id := createTestItem(t, adapter, domain.ItemFields{Name: "Shirt", Qty: 5})

	err := adapter.WithinTx(ctx, func(tx port.ItemTx) error {
		return tx.SetQuantity(ctx, id, 4, 0)
	})
	require.NoError(t, err)

	err = adapter.WithinTx(ctx, func(tx port.ItemTx) error {
		return tx.SetQuantity(ctx, id, 3, 0)
	})
	assert.ErrorIs(t, err, domain.ErrWriteConflict)

	item, err := adapter.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Qty)
	assert.Equal(t, 1, item.Version)
}

func TestMySQL_CheckConstraintRejectsNegativeQty(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()
	id := createTestItem(t, adapter, domain.ItemFields{Name: "Shirt", Qty: 1})

	err := adapter.WithinTx(ctx, func(tx port.ItemTx) error {
		return tx.SetQuantity(ctx, id, -1, 0)
	})

	if err == nil {
		t.Skip("server does not enforce CHECK constraints")
	}
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestMySQL_ReplaceItem(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()
	id := createTestItem(t, adapter, domain.ItemFields{Name: "Shirt", SKU: "A", Qty: 5})

	err := adapter.WithinTx(ctx, func(tx port.ItemTx) error {
		return tx.ReplaceItem(ctx, id, domain.ItemFields{Name: "Hat", Qty: 2, Price: decimal.NewFromInt(3)}, domain.AnyVersion)
	})
	require.NoError(t, err)

	item, err := adapter.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hat", item.Name)
	assert.Empty(t, item.SKU)
	assert.Equal(t, 2, item.Qty)

	err = adapter.WithinTx(ctx, func(tx port.ItemTx) error {
		return tx.ReplaceItem(ctx, uuid.NewString(), domain.ItemFields{Name: "Hat"}, domain.AnyVersion)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMySQL_ConcurrentDecrements(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()

	initialStock := 10
	totalRequests := 30
	id := createTestItem(t, adapter, domain.ItemFields{Name: "Shirt", Qty: initialStock})

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// retry conflicts until the item is sold out
			for {
				err := adapter.WithinTx(ctx, func(tx port.ItemTx) error {
					item, err := tx.GetItem(ctx, id)
					if err != nil {
						return err
					}
					if item.Qty == 0 {
						return domain.ErrInsufficientStock
					}
					return tx.SetQuantity(ctx, id, item.Qty-1, item.Version)
				})
				if errors.Is(err, domain.ErrWriteConflict) {
					continue
				}
				if err == nil {
					successCount.Add(1)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())

	item, err := adapter.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Qty)
}

func TestMySQL_SearchItems(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)
	ctx := context.Background()

	marker := "zqxintegration"
	id := createTestItem(t, adapter, domain.ItemFields{Name: "Shirt", Description: marker + " shirt"})
	createTestItem(t, adapter, domain.ItemFields{Name: "Hat", Description: "plain"})

	items, err := adapter.SearchItems(ctx, marker, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
}
