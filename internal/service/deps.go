package service

import (
	"context"
	"time"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// StockStore is the persistence IngredientStock needs. ApplyStockDelta must
// write the ledger row and the materialized stock atomically.
type StockStore interface {
	CreateIngredient(ctx context.Context, ing *models.Ingredient) error
	GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error)
	ApplyStockDelta(ctx context.Context, mv *models.StockMovement, delta decimal.Decimal, allowNegative bool) error
	ListMovements(ctx context.Context, ingredientID int64, limit int) ([]models.StockMovement, error)
	ListMovementsChronological(ctx context.Context, ingredientID int64) ([]models.StockMovement, error)
	ListLowStock(ctx context.Context) ([]models.Ingredient, error)
}

// RecipeStore is read-only from the order flows
type RecipeStore interface {
	GetRecipesByProduct(ctx context.Context, productID int64) ([]models.Recipe, error)
	GetRecipesByIngredient(ctx context.Context, ingredientID int64) ([]models.Recipe, error)
}

// OrderStore persists orders and performs conditional status transitions
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	MarkOrderPaid(ctx context.Context, id int64, method string) (*models.Order, error)
	MarkOrderVoided(ctx context.Context, id int64, reason, by string, at time.Time) (*models.Order, error)
	RecordRefund(ctx context.Context, id int64, amount decimal.Decimal, by string, at time.Time) (*models.Order, error)
	MarkOrderFailed(ctx context.Context, id int64, stockStatus string) error
	UpdateStockStatus(ctx context.Context, id int64, stockStatus string) error
}

// CustomerStore updates the external customer aggregate
type CustomerStore interface {
	AdjustCustomerAggregate(ctx context.Context, id int64, countDelta int, spentDelta decimal.Decimal) error
}

// EventPublisher emits domain events. broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderVoided(ctx context.Context, event *models.OrderVoidedEvent) error
	PublishOrderRefunded(ctx context.Context, event *models.OrderRefundedEvent) error
	PublishStockMovement(ctx context.Context, event *models.StockMovementRecordedEvent) error
}

// SequenceAllocator hands out monotonic numbers per named sequence
type SequenceAllocator interface {
	NextSequence(ctx context.Context, name string, ttl time.Duration) (int64, error)
}

// IdempotencyCache is a fast-path marker for replayed checkout requests
type IdempotencyCache interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}
func (noopPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error     { return nil }
func (noopPublisher) PublishOrderVoided(context.Context, *models.OrderVoidedEvent) error { return nil }
func (noopPublisher) PublishOrderRefunded(context.Context, *models.OrderRefundedEvent) error {
	return nil
}
func (noopPublisher) PublishStockMovement(context.Context, *models.StockMovementRecordedEvent) error {
	return nil
}
