package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/adapter/events"
	"github.com/rl1809/inventory/internal/adapter/storage"
	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/core/service"
	"github.com/rl1809/inventory/internal/logger"
	"github.com/rl1809/inventory/internal/metrics"
	"github.com/rl1809/inventory/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
)

// Hammers one item with concurrent single-unit removals and checks that
// exactly initialStock of them succeed.
func main() {
	driver := flag.String("store", "memory", "item store: memory | mysql")
	dsn := flag.String("dsn", "root:root@tcp(localhost:3306)/inventory?parseTime=true", "mysql dsn")
	flag.Parse()

	ctx := context.Background()
	log := logger.New("production").WithOptions(zap.IncreaseLevel(zap.ErrorLevel))
	defer log.Sync()

	var store port.ItemStore
	switch *driver {
	case "mysql":
		db, err := sql.Open("mysql", *dsn)
		if err != nil {
			log.Fatal("failed to connect mysql", zap.Error(err))
		}
		defer db.Close()

		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to migrate schema", zap.Error(err))
		}
		store = adapter
	default:
		store = storage.NewMemoryAdapter()
	}

	m := metrics.New(prometheus.NewRegistry())
	retry := service.RetryPolicy{
		MaxAttempts:    50,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
	ledger := service.NewLedger(store, events.NopPublisher{}, m, log, retry)

	itemID, err := store.CreateItem(ctx, domain.ItemFields{
		Name:  "stress-test-item",
		Qty:   initialStock,
		Price: decimal.NewFromInt(1),
	})
	if err != nil {
		log.Fatal("failed to create item", zap.Error(err))
	}
	defer store.DeleteItem(ctx, itemID)

	// Counters
	var successCount, rejectedCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := ledger.Consume(ctx, itemID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejectedCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	rejected := rejectedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", *driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Write Conflicts:  %.0f\n", testutil.ToFloat64(m.WriteConflicts))
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && rejected == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d removals succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, rejected)
	}

	item, err := store.GetItem(ctx, itemID)
	if err != nil {
		log.Fatal("failed to read item", zap.Error(err))
	}
	fmt.Printf("Final Stock: %d\n", item.Qty)

	if item.Qty == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Qty)
	}
}
