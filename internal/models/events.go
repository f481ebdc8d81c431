package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderPaid             = "ORDER_PAID"
	EventTypeOrderVoided           = "ORDER_VOIDED"
	EventTypeOrderRefunded         = "ORDER_REFUNDED"
	EventTypeStockMovementRecorded = "STOCK_MOVEMENT_RECORDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after checkout completes
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentStatus string          `json:"payment_status"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a pending order is settled
type OrderPaidEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
}

// OrderVoidedEvent published when an order is voided
type OrderVoidedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Reason   string `json:"reason"`
	VoidedBy string `json:"voided_by"`
}

// OrderRefundedEvent published for every refund, partial or full
type OrderRefundedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	RefundTotal   decimal.Decimal `json:"refund_total"`
	Full          bool            `json:"full"`
	RefundedBy    string          `json:"refunded_by"`
	PaymentStatus string          `json:"payment_status"`
}

// StockMovementRecordedEvent published for every ledger entry
type StockMovementRecordedEvent struct {
	BaseEvent
	MovementID    int64           `json:"movement_id"`
	IngredientID  int64           `json:"ingredient_id"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	NewStock      decimal.Decimal `json:"new_stock"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
