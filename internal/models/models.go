package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient represents a raw material tracked in stock
type Ingredient struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Unit         string          `db:"unit" json:"unit"`
	CurrentStock decimal.Decimal `db:"current_stock" json:"current_stock"`
	MinStock     decimal.Decimal `db:"min_stock" json:"min_stock"`
	CostPerUnit  decimal.Decimal `db:"cost_per_unit" json:"cost_per_unit"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLow reports whether stock is at or below the reorder threshold
func (i *Ingredient) IsLow() bool {
	return i.CurrentStock.LessThanOrEqual(i.MinStock)
}

// Ingredient units
const (
	UnitKilogram = "kilogram"
	UnitGram     = "gram"
	UnitPiece    = "piece"
)

// Recipe is one bill-of-materials row: ingredient consumed per unit of product sold
type Recipe struct {
	ID           int64           `db:"id" json:"id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	IngredientID int64           `db:"ingredient_id" json:"ingredient_id"`
	QtyPerUnit   decimal.Decimal `db:"qty_per_unit" json:"qty_per_unit"`
}

// StockMovement is an append-only ledger entry
type StockMovement struct {
	ID            int64           `db:"id" json:"id"`
	IngredientID  int64           `db:"ingredient_id" json:"ingredient_id"`
	Type          string          `db:"type" json:"type"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	PreviousStock decimal.Decimal `db:"previous_stock" json:"previous_stock"`
	NewStock      decimal.Decimal `db:"new_stock" json:"new_stock"`
	ReferenceType string          `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID   string          `db:"reference_id" json:"reference_id,omitempty"`
	Notes         string          `db:"notes" json:"notes,omitempty"`
	CreatedBy     string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Delta returns the signed change this movement applied
func (m *StockMovement) Delta() decimal.Decimal {
	return m.NewStock.Sub(m.PreviousStock)
}

// Movement types
const (
	MovementIn          = "in"
	MovementOut         = "out"
	MovementAdjustment  = "adjustment"
	MovementOrderDeduct = "order_deduct"
)

// Adjustment directions
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
)

// Movement reference types
const (
	ReferenceOrder             = "order"
	ReferenceOrderCompensation = "order_compensation"
	ReferenceVoid              = "void"
	ReferenceRefund            = "refund"
	ReferenceManual            = "manual"
	ReferencePurchaseOrder     = "purchase_order"
)

// Customer holds the running aggregates updated by checkout and reversal
type Customer struct {
	ID         int64           `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	OrderCount int             `db:"order_count" json:"order_count"`
	TotalSpent decimal.Decimal `db:"total_spent" json:"total_spent"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	CustomerID     *int64          `db:"customer_id" json:"customer_id,omitempty"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method,omitempty"`
	PaymentStatus  string          `db:"payment_status" json:"payment_status"`
	StockStatus    string          `db:"stock_status" json:"stock_status"`
	VoidReason     *string         `db:"void_reason" json:"void_reason,omitempty"`
	VoidedAt       *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	VoidedBy       *string         `db:"voided_by" json:"voided_by,omitempty"`
	RefundAmount   decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	RefundedAt     *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
	RefundedBy     *string         `db:"refunded_by" json:"refunded_by,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedBy      string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the payment status admits no further transitions
func (o *Order) IsTerminal() bool {
	switch o.PaymentStatus {
	case PaymentStatusVoided, PaymentStatusRefunded, PaymentStatusFailed:
		return true
	}
	return false
}

// OrderItem represents a line of an order. Immutable once the order is placed.
type OrderItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	ProductName    string          `db:"product_name" json:"product_name,omitempty"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	Modifiers      Modifiers       `db:"modifiers" json:"modifiers"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// LineSubtotal computes (unit price + modifiers) x quantity - item discount
func (i *OrderItem) LineSubtotal() decimal.Decimal {
	price := i.UnitPrice
	for _, m := range i.Modifiers {
		price = price.Add(m.Price)
	}
	return price.Mul(decimal.NewFromInt(int64(i.Quantity))).Sub(i.DiscountAmount)
}

// Modifier adds to the line price
type Modifier struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Modifiers is stored as a JSONB column
type Modifiers []Modifier

// Value implements driver.Valuer
func (m Modifiers) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Modifiers) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Modifiers{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("modifiers: unsupported scan type")
	}
	return json.Unmarshal(data, m)
}

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusVoided   = "voided"
	PaymentStatusRefunded = "refunded"
	PaymentStatusFailed   = "failed"
)

// Stock statuses track whether an order's ingredient deductions are in effect
const (
	StockStatusPending      = "pending"
	StockStatusNone         = "none"
	StockStatusDeducted     = "deducted"
	StockStatusRestored     = "restored"
	StockStatusCompensated  = "compensated"
	StockStatusUnreconciled = "unreconciled"
)

// Actor roles
const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

// Actor is the authenticated principal performing an operation
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// IsAdmin reports whether the actor holds the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
