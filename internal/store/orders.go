package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CreateOrder creates a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, customer_id, subtotal, discount_amount, total,
			payment_method, payment_status, stock_status, idempotency_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, refund_amount, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.OrderNumber, order.CustomerID, order.Subtotal, order.DiscountAmount, order.Total,
		order.PaymentMethod, order.PaymentStatus, order.StockStatus, order.IdempotencyKey, order.CreatedBy,
	).Scan(&order.ID, &order.RefundAmount, &order.CreatedAt, &order.UpdatedAt)
	return translate(err)
}

// CreateOrderItems inserts the items of an order as one batch
func (s *Store) CreateOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price,
			modifiers, discount_amount, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	for i := range items {
		item := &items[i]
		item.OrderID = orderID
		err := tx.GetContext(ctx, &item.ID, query,
			item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice,
			item.Modifiers, item.DiscountAmount, item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", translate(err))
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil when absent
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// MarkOrderPaid moves a pending order to paid
func (s *Store) MarkOrderPaid(ctx context.Context, id int64, method string) (*models.Order, error) {
	return s.transition(ctx, id, `
		UPDATE orders SET payment_status = 'paid', payment_method = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
		RETURNING *`, method)
}

// MarkOrderVoided moves a paid order to voided. Only one caller can win, and
// an order whose checkout has not settled its stock cannot be voided.
func (s *Store) MarkOrderVoided(ctx context.Context, id int64, reason, by string, at time.Time) (*models.Order, error) {
	return s.transition(ctx, id, `
		UPDATE orders
		SET payment_status = 'voided', void_reason = $2, voided_by = $3, voided_at = $4, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'paid' AND stock_status <> 'pending'
		RETURNING *`, reason, by, at)
}

// RecordRefund accumulates a refund on a paid order. When the accumulated
// amount reaches the total the order becomes refunded.
func (s *Store) RecordRefund(ctx context.Context, id int64, amount decimal.Decimal, by string, at time.Time) (*models.Order, error) {
	return s.transition(ctx, id, `
		UPDATE orders
		SET refund_amount = refund_amount + $2,
		    payment_status = CASE WHEN refund_amount + $2 >= total THEN 'refunded' ELSE payment_status END,
		    refunded_by = $3, refunded_at = $4, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'paid' AND stock_status <> 'pending'
		  AND refund_amount + $2 <= total
		RETURNING *`, amount, by, at)
}

// MarkOrderFailed marks an order whose checkout saga did not complete. An
// order that already reached a terminal status is left alone.
func (s *Store) MarkOrderFailed(ctx context.Context, id int64, stockStatus string) error {
	_, err := s.transition(ctx, id, `
		UPDATE orders SET payment_status = 'failed', stock_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('pending', 'paid')
		RETURNING *`, stockStatus)
	return err
}

// UpdateStockStatus records whether an order's deductions are in effect
func (s *Store) UpdateStockStatus(ctx context.Context, id int64, stockStatus string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stock_status = $2, updated_at = NOW() WHERE id = $1",
		id, stockStatus)
	return err
}

func (s *Store) transition(ctx context.Context, id int64, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, query, append([]interface{}{id}, args...)...)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetOrderByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("order %d: %w", id, ErrStatusConflict)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrDuplicate)
		case "23503":
			return fmt.Errorf("%s: %w", pqErr.Constraint, ErrNotFound)
		}
	}
	return err
}
