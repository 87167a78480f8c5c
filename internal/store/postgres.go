package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/lootbox-sale/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; counts
// are BIGINT and rejected above math.MaxInt64.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type pgTxKey struct{}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txCtx := context.WithValue(ctx, pgTxKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(pgTxKey{}).(pgx.Tx)
	return tx
}

// forUpdate locks read rows when the read happens inside a transaction so
// concurrent instances serialize on the same order.
func forUpdate(ctx context.Context) string {
	if txFromContext(ctx) != nil {
		return " FOR UPDATE"
	}
	return ""
}

func (s *PostgresStore) NextOrderID(ctx context.Context) (uint64, error) {
	var next int64
	if err := s.queryRow(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM sell_orders`).Scan(&next); err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	return uint64(next), nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.SellOrder) error {
	ints, err := toInt64s(o.ID, o.SellUnit, o.ListedAmount, o.SoldAmount)
	if err != nil {
		return fmt.Errorf("create order %d: %w", o.ID, err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO sell_orders (id, price, sell_unit, listed_amount, sold_amount, status, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8)`,
		ints[0], o.Price.String(), ints[1], ints[2], ints[3],
		string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order %d: %w", o.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id uint64) (*model.SellOrder, error) {
	if id > math.MaxInt64 {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}

	var (
		o                       model.SellOrder
		oid, unit, listed, sold int64
		priceS, status          string
	)
	err := s.queryRow(ctx,
		`SELECT id, price::TEXT, sell_unit, listed_amount, sold_amount, status, created_at, updated_at
		 FROM sell_orders WHERE id = $1`+forUpdate(ctx), int64(id)).
		Scan(&oid, &priceS, &unit, &listed, &sold, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	o.ID = uint64(oid)
	o.Price, _ = decimal.NewFromString(priceS)
	o.SellUnit = uint64(unit)
	o.ListedAmount = uint64(listed)
	o.SoldAmount = uint64(sold)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.SellOrder) error {
	ints, err := toInt64s(o.ID, o.SellUnit, o.ListedAmount, o.SoldAmount)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	tag, err := s.exec(ctx,
		`UPDATE sell_orders
		 SET price = $2::NUMERIC, sell_unit = $3, listed_amount = $4,
		     sold_amount = $5, status = $6, updated_at = $7
		 WHERE id = $1`,
		ints[0], o.Price.String(), ints[1], ints[2], ints[3], string(o.Status), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.SellOrder, error) {
	rows, err := s.query(ctx,
		`SELECT id, price::TEXT, sell_unit, listed_amount, sold_amount, status, created_at, updated_at
		 FROM sell_orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.SellOrder
	for rows.Next() {
		var (
			o                       model.SellOrder
			oid, unit, listed, sold int64
			priceS, status          string
		)
		if err := rows.Scan(&oid, &priceS, &unit, &listed, &sold, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.ID = uint64(oid)
		o.Price, _ = decimal.NewFromString(priceS)
		o.SellUnit = uint64(unit)
		o.ListedAmount = uint64(listed)
		o.SoldAmount = uint64(sold)
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) GetCapacity(ctx context.Context) (model.CapacityState, error) {
	var c, issued int64
	err := s.queryRow(ctx,
		`SELECT capacity, total_issued FROM sale_capacity WHERE singleton`+forUpdate(ctx)).
		Scan(&c, &issued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CapacityState{}, nil
		}
		return model.CapacityState{}, fmt.Errorf("get capacity: %w", err)
	}
	return model.CapacityState{Capacity: uint64(c), TotalIssued: uint64(issued)}, nil
}

func (s *PostgresStore) SaveCapacity(ctx context.Context, c model.CapacityState) error {
	ints, err := toInt64s(c.Capacity, c.TotalIssued)
	if err != nil {
		return fmt.Errorf("save capacity: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO sale_capacity (singleton, capacity, total_issued) VALUES (TRUE, $1, $2)
		 ON CONFLICT (singleton) DO UPDATE SET capacity = EXCLUDED.capacity, total_issued = EXCLUDED.total_issued`,
		ints[0], ints[1])
	if err != nil {
		return fmt.Errorf("save capacity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, account model.Address, orderID uint64) (uint64, error) {
	if orderID > math.MaxInt64 {
		return 0, nil
	}
	var n int64
	err := s.queryRow(ctx,
		`SELECT count FROM holdings WHERE account = $1 AND order_id = $2`+forUpdate(ctx),
		string(account), int64(orderID)).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get holding %s/%d: %w", account, orderID, err)
	}
	return uint64(n), nil
}

func (s *PostgresStore) SetHolding(ctx context.Context, account model.Address, orderID uint64, count uint64) error {
	ints, err := toInt64s(orderID, count)
	if err != nil {
		return fmt.Errorf("set holding %s/%d: %w", account, orderID, err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO holdings (account, order_id, count) VALUES ($1, $2, $3)
		 ON CONFLICT (account, order_id) DO UPDATE SET count = EXCLUDED.count`,
		string(account), ints[0], ints[1])
	if err != nil {
		return fmt.Errorf("set holding %s/%d: %w", account, orderID, err)
	}
	return nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, account model.Address) ([]model.Holding, error) {
	rows, err := s.query(ctx,
		`SELECT order_id, count FROM holdings WHERE account = $1 AND count > 0 ORDER BY order_id`,
		string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Holding
	for rows.Next() {
		var orderID, n int64
		if err := rows.Scan(&orderID, &n); err != nil {
			return nil, err
		}
		result = append(result, model.Holding{Account: account, OrderID: uint64(orderID), Count: uint64(n)})
	}
	return result, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	var orderID *int64
	if e.OrderID != nil {
		if *e.OrderID > math.MaxInt64 {
			return fmt.Errorf("append event %s: %w: order %d", e.Kind, errOutOfRange, *e.OrderID)
		}
		v := int64(*e.OrderID)
		orderID = &v
	}
	ints, err := toInt64s(e.ItemID, e.SellUnit, e.ListedAmount, e.Capacity)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Kind, err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO sale_events (id, kind, order_id, account, collection, item_id, price,
		                          sell_unit, listed_amount, amount, capacity, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10::NUMERIC, $11, $12)`,
		e.ID, string(e.Kind), orderID, string(e.Account), string(e.Collection), ints[0],
		e.Price.String(), ints[1], ints[2], e.Amount.String(), ints[3], e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Kind, err)
	}
	return nil
}

func (s *PostgresStore) ListEventsByOrder(ctx context.Context, orderID uint64) ([]model.Event, error) {
	if orderID > math.MaxInt64 {
		return nil, nil
	}
	rows, err := s.query(ctx,
		`SELECT id::TEXT, kind, order_id, account, collection, item_id, price::TEXT,
		        sell_unit, listed_amount, amount::TEXT, capacity, timestamp
		 FROM sale_events WHERE order_id = $1 ORDER BY seq`, int64(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanEvents reads pgx rows into Event slices.
func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var (
			e                                   model.Event
			kind, account, collection           string
			orderID                             *int64
			itemID, unit, listed, capacityValue int64
			priceS, amountS                     string
		)
		if err := rows.Scan(&e.ID, &kind, &orderID, &account, &collection, &itemID, &priceS,
			&unit, &listed, &amountS, &capacityValue, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)
		if orderID != nil {
			v := uint64(*orderID)
			e.OrderID = &v
		}
		e.Account = model.Address(account)
		e.Collection = model.Address(collection)
		e.ItemID = uint64(itemID)
		e.Price, _ = decimal.NewFromString(priceS)
		e.SellUnit = uint64(unit)
		e.ListedAmount = uint64(listed)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.Capacity = uint64(capacityValue)
		events = append(events, e)
	}
	return events, rows.Err()
}

var errOutOfRange = errors.New("value exceeds BIGINT range")

func toInt64s(values ...uint64) ([]int64, error) {
	out := make([]int64, len(values))
	for i, v := range values {
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d", errOutOfRange, v)
		}
		out[i] = int64(v)
	}
	return out, nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *PostgresStore) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.pool.Query(ctx, sql, args...)
}
