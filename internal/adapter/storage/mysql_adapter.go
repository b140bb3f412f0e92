package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/inventory/internal/core/domain"
	"github.com/rl1809/inventory/internal/port"
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", domain.ErrWriteConflict)

// MySQL error numbers.
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errOutOfRange      = 1264
	errCheckConstraint = 3819
)

const (
	itemColumns         = "id, name, variant, sku, qty, description, price, version, created_at, updated_at"
	fullTextMatchClause = "MATCH(name, variant, sku, description) AGAINST (? IN NATURAL LANGUAGE MODE)"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id          CHAR(36)       NOT NULL,
	name        VARCHAR(255)   NOT NULL,
	variant     VARCHAR(255)   NOT NULL DEFAULT '',
	sku         VARCHAR(128)   NOT NULL DEFAULT '',
	qty         INT            NOT NULL,
	description TEXT           NOT NULL,
	price       DECIMAL(12, 2) NOT NULL,
	version     INT            NOT NULL DEFAULT 0,
	created_at  DATETIME(6)    NOT NULL,
	updated_at  DATETIME(6)    NOT NULL,
	PRIMARY KEY (id),
	KEY idx_items_sku (sku),
	FULLTEXT KEY ft_items_text (name, variant, sku, description),
	CONSTRAINT chk_items_qty CHECK (qty >= 0),
	CONSTRAINT chk_items_price CHECK (price >= 0)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the items table when it does not exist yet.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create items table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CreateItem(ctx context.Context, f domain.ItemFields) (string, error) {
	id := uuid.NewString()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO items (id, name, variant, sku, qty, description, price, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NOW(6), NOW(6))`,
		id, f.Name, f.Variant, f.SKU, f.Qty, f.Description, f.Price,
	)
	if err != nil {
		return "", fmt.Errorf("insert item: %w", classify(err))
	}

	return id, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return getItem(ctx, m.db, id)
}

func (m *MySQLAdapter) DeleteItem(ctx context.Context, id string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, `+fullTextMatchClause+` AS score
		FROM items
		WHERE `+fullTextMatchClause+`
		ORDER BY score DESC, id
		LIMIT ?`,
		term, term, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0)
	for rows.Next() {
		var score float64
		item, err := scanItem(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}

	return items, nil
}

// WithinTx runs fn in a REPEATABLE READ transaction. Writes made through the
// transaction are conditioned on the version the caller read, so a concurrent
// commit turns into ErrOptimisticLock instead of a lost update.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.ItemTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t *mysqlTx) SetQuantity(ctx context.Context, id string, qty int, expectedVersion int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET qty = ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND version = ?`,
		qty, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update qty: %w", classify(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func (t *mysqlTx) ReplaceItem(ctx context.Context, id string, f domain.ItemFields, expectedVersion int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET name = ?, variant = ?, sku = ?, qty = ?, description = ?, price = ?,
			version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND (? = -1 OR version = ?)`,
		f.Name, f.Variant, f.SKU, f.Qty, f.Description, f.Price,
		id, expectedVersion, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("replace item: %w", classify(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if expectedVersion == domain.AnyVersion {
			return domain.ErrNotFound
		}
		return ErrOptimisticLock
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getItem(ctx context.Context, q queryer, id string) (*domain.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", classify(err))
	}
	return item, nil
}

func scanItem(row rowScanner, extra ...any) (*domain.Item, error) {
	var item domain.Item
	dest := []any{
		&item.ID, &item.Name, &item.Variant, &item.SKU, &item.Qty,
		&item.Description, &item.Price, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &item, nil
}

// classify maps InnoDB lock failures onto ErrOptimisticLock and check
// constraint or range violations onto domain.ErrInvalidItem.
func classify(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errDeadlock, errLockWaitTimeout:
		return fmt.Errorf("%w: %v", ErrOptimisticLock, err)
	case errCheckConstraint, errOutOfRange:
		return fmt.Errorf("%w: %v", domain.ErrInvalidItem, err)
	}
	return err
}
