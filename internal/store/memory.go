package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process implementation of the store used for local
// demos (STORE_DRIVER=memory) and tests. One mutex guards every table, which
// gives the same per-ingredient serialization the row lock gives in Postgres.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	ingredients map[int64]*models.Ingredient
	recipes     []models.Recipe
	movements   []models.StockMovement
	customers   map[int64]*models.Customer
	orders      map[int64]*models.Order
	items       map[int64][]models.OrderItem
	idem        map[string]int64
	numbers     map[string]int64
	seq         int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		ingredients: make(map[int64]*models.Ingredient),
		customers:   make(map[int64]*models.Customer),
		orders:      make(map[int64]*models.Order),
		items:       make(map[int64][]models.OrderItem),
		idem:        make(map[string]int64),
		numbers:     make(map[string]int64),
	}
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Migrate is a no-op
func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) CreateIngredient(_ context.Context, ing *models.Ingredient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.ingredients {
		if existing.Name == ing.Name {
			return fmt.Errorf("ingredient name %q: %w", ing.Name, ErrDuplicate)
		}
	}
	ing.ID = m.nextID()
	ing.CreatedAt = m.now()
	ing.UpdatedAt = ing.CreatedAt
	cp := *ing
	m.ingredients[ing.ID] = &cp
	return nil
}

func (m *MemoryStore) GetIngredient(_ context.Context, id int64) (*models.Ingredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ing, ok := m.ingredients[id]
	if !ok {
		return nil, fmt.Errorf("ingredient %d: %w", id, ErrNotFound)
	}
	cp := *ing
	return &cp, nil
}

func (m *MemoryStore) ListLowStock(_ context.Context) ([]models.Ingredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Ingredient
	for _, ing := range m.ingredients {
		if ing.IsActive && ing.IsLow() {
			out = append(out, *ing)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CurrentStock.Equal(out[j].CurrentStock) {
			return out[i].CurrentStock.LessThan(out[j].CurrentStock)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ApplyStockDelta(_ context.Context, mv *models.StockMovement, delta decimal.Decimal, allowNegative bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ing, ok := m.ingredients[mv.IngredientID]
	if !ok {
		return fmt.Errorf("ingredient %d: %w", mv.IngredientID, ErrNotFound)
	}

	current := ing.CurrentStock
	next := current.Add(delta)
	if !allowNegative && delta.IsNegative() && next.IsNegative() {
		return fmt.Errorf("ingredient %d has %s, needs %s: %w", mv.IngredientID, current, delta.Neg(), ErrInsufficientStock)
	}

	now := m.now()
	ing.CurrentStock = next
	ing.UpdatedAt = now

	mv.ID = m.nextID()
	mv.PreviousStock = current
	mv.NewStock = next
	mv.CreatedAt = now
	m.movements = append(m.movements, *mv)
	return nil
}

func (m *MemoryStore) ListMovements(_ context.Context, ingredientID int64, limit int) ([]models.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.StockMovement
	for i := len(m.movements) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.movements[i].IngredientID == ingredientID {
			out = append(out, m.movements[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) ListMovementsChronological(_ context.Context, ingredientID int64) ([]models.StockMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.StockMovement
	for _, mv := range m.movements {
		if mv.IngredientID == ingredientID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateRecipe(_ context.Context, r *models.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ingredients[r.IngredientID]; !ok {
		return fmt.Errorf("ingredient %d: %w", r.IngredientID, ErrNotFound)
	}
	for i := range m.recipes {
		if m.recipes[i].ProductID == r.ProductID && m.recipes[i].IngredientID == r.IngredientID {
			m.recipes[i].QtyPerUnit = r.QtyPerUnit
			r.ID = m.recipes[i].ID
			return nil
		}
	}
	r.ID = m.nextID()
	m.recipes = append(m.recipes, *r)
	return nil
}

func (m *MemoryStore) GetRecipesByProduct(_ context.Context, productID int64) ([]models.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Recipe
	for _, r := range m.recipes {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngredientID < out[j].IngredientID })
	return out, nil
}

func (m *MemoryStore) GetRecipesByIngredient(_ context.Context, ingredientID int64) ([]models.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Recipe
	for _, r := range m.recipes {
		if r.IngredientID == ingredientID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *MemoryStore) CreateCustomer(_ context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.nextID()
	c.UpdatedAt = m.now()
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, id int64) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AdjustCustomerAggregate(_ context.Context, id int64, countDelta int, spentDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	c.OrderCount += countDelta
	if c.OrderCount < 0 {
		c.OrderCount = 0
	}
	c.TotalSpent = decimal.Max(c.TotalSpent.Add(spentDelta), decimal.Zero)
	c.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.numbers[order.OrderNumber]; ok {
		return fmt.Errorf("order number %s: %w", order.OrderNumber, ErrDuplicate)
	}
	if order.IdempotencyKey != nil {
		if _, ok := m.idem[*order.IdempotencyKey]; ok {
			return fmt.Errorf("idempotency key: %w", ErrDuplicate)
		}
	}
	if order.CustomerID != nil {
		if _, ok := m.customers[*order.CustomerID]; !ok {
			return fmt.Errorf("customer %d: %w", *order.CustomerID, ErrNotFound)
		}
	}

	order.ID = m.nextID()
	order.RefundAmount = decimal.Zero
	order.CreatedAt = m.now()
	order.UpdatedAt = order.CreatedAt

	cp := *order
	m.orders[order.ID] = &cp
	m.numbers[order.OrderNumber] = order.ID
	if order.IdempotencyKey != nil {
		m.idem[*order.IdempotencyKey] = order.ID
	}
	return nil
}

func (m *MemoryStore) CreateOrderItems(_ context.Context, orderID int64, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	for i := range items {
		items[i].ID = m.nextID()
		items[i].OrderID = orderID
	}
	m.items[orderID] = append(m.items[orderID], items...)
	return nil
}

func (m *MemoryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.idem[key]
	if !ok {
		return nil, nil
	}
	cp := *m.orders[id]
	return &cp, nil
}

func (m *MemoryStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items[orderID]
	out := make([]models.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryStore) MarkOrderPaid(_ context.Context, id int64, method string) (*models.Order, error) {
	return m.transition(id, func(o *models.Order) bool {
		if o.PaymentStatus != models.PaymentStatusPending {
			return false
		}
		o.PaymentStatus = models.PaymentStatusPaid
		o.PaymentMethod = method
		return true
	})
}

func (m *MemoryStore) MarkOrderVoided(_ context.Context, id int64, reason, by string, at time.Time) (*models.Order, error) {
	return m.transition(id, func(o *models.Order) bool {
		if o.PaymentStatus != models.PaymentStatusPaid || o.StockStatus == models.StockStatusPending {
			return false
		}
		o.PaymentStatus = models.PaymentStatusVoided
		o.VoidReason = &reason
		o.VoidedBy = &by
		o.VoidedAt = &at
		return true
	})
}

func (m *MemoryStore) RecordRefund(_ context.Context, id int64, amount decimal.Decimal, by string, at time.Time) (*models.Order, error) {
	return m.transition(id, func(o *models.Order) bool {
		next := o.RefundAmount.Add(amount)
		if o.PaymentStatus != models.PaymentStatusPaid || o.StockStatus == models.StockStatusPending || next.GreaterThan(o.Total) {
			return false
		}
		o.RefundAmount = next
		if next.GreaterThanOrEqual(o.Total) {
			o.PaymentStatus = models.PaymentStatusRefunded
		}
		o.RefundedBy = &by
		o.RefundedAt = &at
		return true
	})
}

func (m *MemoryStore) MarkOrderFailed(_ context.Context, id int64, stockStatus string) error {
	_, err := m.transition(id, func(o *models.Order) bool {
		if o.IsTerminal() {
			return false
		}
		o.PaymentStatus = models.PaymentStatusFailed
		o.StockStatus = stockStatus
		return true
	})
	return err
}

func (m *MemoryStore) UpdateStockStatus(_ context.Context, id int64, stockStatus string) error {
	_, err := m.transition(id, func(o *models.Order) bool {
		o.StockStatus = stockStatus
		return true
	})
	return err
}

func (m *MemoryStore) transition(id int64, apply func(o *models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	next := *o
	if !apply(&next) {
		return nil, fmt.Errorf("order %d: %w", id, ErrStatusConflict)
	}
	next.UpdatedAt = m.now()
	*o = next
	cp := next
	return &cp, nil
}
