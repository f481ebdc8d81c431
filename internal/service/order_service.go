package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pos-service/config"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const orderNumberAttempts = 3

// OrderService handles checkout and payment of orders
type OrderService struct {
	orders    OrderStore
	customers CustomerStore
	stock     *StockService
	recipes   *RecipeResolver
	numbers   *OrderNumberGenerator
	publisher EventPublisher
	idem      IdempotencyCache
	idemTTL   time.Duration
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	customers CustomerStore,
	stock *StockService,
	recipes *RecipeResolver,
	numbers *OrderNumberGenerator,
	publisher EventPublisher,
	cfg config.BusinessConfig,
) *OrderService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &OrderService{
		orders:    orders,
		customers: customers,
		stock:     stock,
		recipes:   recipes,
		numbers:   numbers,
		publisher: publisher,
		idemTTL:   time.Duration(cfg.IdempotencyTTLSeconds) * time.Second,
		logger:    util.GetLogger(),
	}
}

// UseIdempotencyCache enables the fast-path replay check for checkout
func (s *OrderService) UseIdempotencyCache(cache IdempotencyCache) {
	s.idem = cache
}

// CreateOrderInput represents a checkout request
type CreateOrderInput struct {
	CustomerID     *int64           `json:"customer_id,omitempty"`
	Items          []OrderItemInput `json:"items" binding:"required,min=1,dive"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// OrderItemInput represents a line in a checkout request
type OrderItemInput struct {
	ProductID      int64             `json:"product_id" binding:"required"`
	ProductName    string            `json:"product_name,omitempty"`
	Quantity       int               `json:"quantity" binding:"required,min=1"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	Modifiers      []models.Modifier `json:"modifiers,omitempty"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
}

// moneyScale is the number of decimal places the money columns store
const moneyScale = 2

func isMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyScale))
}

// buildItems validates the input lines and computes their subtotals
func buildItems(input *CreateOrderInput) ([]models.OrderItem, decimal.Decimal, error) {
	if len(input.Items) == 0 {
		return nil, decimal.Zero, invalidf("order has no items")
	}

	items := make([]models.OrderItem, 0, len(input.Items))
	subtotal := decimal.Zero
	for i, in := range input.Items {
		if in.ProductID <= 0 {
			return nil, decimal.Zero, invalidf("item %d: product_id is required", i)
		}
		if in.Quantity < 1 {
			return nil, decimal.Zero, invalidf("item %d: quantity must be at least 1", i)
		}
		if in.UnitPrice.IsNegative() || in.DiscountAmount.IsNegative() {
			return nil, decimal.Zero, invalidf("item %d: price and discount must not be negative", i)
		}
		if !isMoney(in.UnitPrice) || !isMoney(in.DiscountAmount) {
			return nil, decimal.Zero, invalidf("item %d: price and discount take at most %d decimal places", i, moneyScale)
		}
		for _, m := range in.Modifiers {
			if m.Price.IsNegative() {
				return nil, decimal.Zero, invalidf("item %d: modifier %q has a negative price", i, m.Name)
			}
			if !isMoney(m.Price) {
				return nil, decimal.Zero, invalidf("item %d: modifier %q price takes at most %d decimal places", i, m.Name, moneyScale)
			}
		}

		item := models.OrderItem{
			ProductID:      in.ProductID,
			ProductName:    in.ProductName,
			Quantity:       in.Quantity,
			UnitPrice:      in.UnitPrice,
			Modifiers:      models.Modifiers(in.Modifiers),
			DiscountAmount: in.DiscountAmount,
		}
		if item.Modifiers == nil {
			item.Modifiers = models.Modifiers{}
		}
		item.Subtotal = item.LineSubtotal()
		if item.Subtotal.IsNegative() {
			return nil, decimal.Zero, invalidf("item %d: discount exceeds line amount", i)
		}

		subtotal = subtotal.Add(item.Subtotal)
		items = append(items, item)
	}

	if !isMoney(input.DiscountAmount) {
		return nil, decimal.Zero, invalidf("order discount takes at most %d decimal places", moneyScale)
	}
	if input.DiscountAmount.IsNegative() || input.DiscountAmount.GreaterThan(subtotal) {
		return nil, decimal.Zero, invalidf("order discount must be between 0 and the subtotal %s", subtotal)
	}
	return items, subtotal, nil
}

// Checkout is the outcome of CreateOrder. Replayed is set when the
// idempotency key matched an existing order and nothing new was written.
type Checkout struct {
	Order    *models.Order
	Items    []models.OrderItem
	Replayed bool
}

// CreateOrder persists an order, then deducts the ingredients its recipes
// consume. If a deduction fails the deductions already applied are
// compensated and the order is marked failed.
func (s *OrderService) CreateOrder(ctx context.Context, input *CreateOrderInput, actor models.Actor) (*Checkout, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if input.IdempotencyKey != "" {
		existing, err := s.findReplay(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", input.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return s.replay(ctx, existing)
		}
	}

	items, subtotal, err := buildItems(input)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	order := &models.Order{
		CustomerID:     input.CustomerID,
		Subtotal:       subtotal,
		DiscountAmount: input.DiscountAmount,
		Total:          subtotal.Sub(input.DiscountAmount),
		PaymentMethod:  strings.TrimSpace(input.PaymentMethod),
		PaymentStatus:  models.PaymentStatusPending,
		StockStatus:    models.StockStatusPending,
		CreatedBy:      actor.ID,
	}
	if order.PaymentMethod != "" {
		order.PaymentStatus = models.PaymentStatusPaid
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		order.IdempotencyKey = &key
	}

	if err := s.insertOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicate) && order.IdempotencyKey != nil {
			// lost a race with an identical request
			if existing, findErr := s.orders.GetOrderByIdempotencyKey(ctx, *order.IdempotencyKey); findErr == nil && existing != nil {
				return s.replay(ctx, existing)
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order_id", order.ID), attribute.String("order_number", order.OrderNumber))

	if err := s.orders.CreateOrderItems(ctx, order.ID, items); err != nil {
		s.markFailed(ctx, order, models.StockStatusNone)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order items: %w", err)
	}

	applied, stockStatus, err := s.deductStock(ctx, order, items, actor)
	if err != nil {
		s.markFailed(ctx, order, stockStatus)
		util.OrdersFailedTotal.WithLabelValues("stock_deduction").Inc()
		util.RecordError(span, err)
		return nil, err
	}
	// Reversals refuse orders whose stock status is still pending, so an
	// order must never be left pending after checkout returns.
	if err := s.orders.UpdateStockStatus(ctx, order.ID, stockStatus); err != nil {
		s.logger.Error("Failed to record stock status, compensating",
			zap.Int64("order_id", order.ID), zap.String("stock_status", stockStatus), zap.Error(err))
		cause := fmt.Errorf("record stock status of order %d: %w", order.ID, err)
		if len(applied) > 0 {
			stockStatus, err = s.compensate(ctx, order, applied, actor, cause)
		} else {
			stockStatus, err = models.StockStatusNone, cause
		}
		s.markFailed(ctx, order, stockStatus)
		util.OrdersFailedTotal.WithLabelValues("stock_status").Inc()
		util.RecordError(span, err)
		return nil, err
	}
	order.StockStatus = stockStatus

	if order.PaymentStatus == models.PaymentStatusPaid {
		s.adjustCustomer(ctx, order, 1, order.Total)
	}

	if order.IdempotencyKey != nil && s.idem != nil {
		if err := s.idem.SetIdempotencyKey(ctx, *order.IdempotencyKey, order.ID, s.idemTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.WithLabelValues(order.PaymentStatus).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.String()),
		zap.String("payment_status", order.PaymentStatus),
		zap.String("stock_status", order.StockStatus))

	s.publishCreated(ctx, order, items)
	return &Checkout{Order: order, Items: items}, nil
}

func (s *OrderService) replay(ctx context.Context, existing *models.Order) (*Checkout, error) {
	items, err := s.orders.GetOrderItemsByOrderID(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return &Checkout{Order: existing, Items: items, Replayed: true}, nil
}

// findReplay looks up an order already created for an idempotency key
func (s *OrderService) findReplay(ctx context.Context, key string) (*models.Order, error) {
	if s.idem != nil {
		cached, err := s.idem.GetIdempotencyKey(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		} else if cached != "" {
			if id, err := strconv.ParseInt(cached, 10, 64); err == nil {
				if order, err := s.orders.GetOrderByID(ctx, id); err == nil {
					return order, nil
				}
			}
		}
	}
	return s.orders.GetOrderByIdempotencyKey(ctx, key)
}

// insertOrder allocates an order number and persists the order, retrying
// when the number collides
func (s *OrderService) insertOrder(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = s.numbers.Next(ctx)
		err = s.orders.CreateOrder(ctx, order)
		if err == nil || !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		if order.IdempotencyKey != nil {
			existing, findErr := s.orders.GetOrderByIdempotencyKey(ctx, *order.IdempotencyKey)
			if findErr == nil && existing != nil {
				return err
			}
		}
		s.logger.Warn("Order number collision, retrying",
			zap.String("order_number", order.OrderNumber), zap.Int("attempt", attempt+1))
	}
	return err
}

// deductStock applies one order_deduct movement per required ingredient and
// returns the applied requirements and the resulting stock status
func (s *OrderService) deductStock(ctx context.Context, order *models.Order, items []models.OrderItem, actor models.Actor) ([]Requirement, string, error) {
	reqs, err := s.recipes.Requirements(ctx, items)
	if err != nil {
		return nil, models.StockStatusNone, err
	}
	if len(reqs) == 0 {
		return nil, models.StockStatusNone, nil
	}

	ref := orderRef(order.ID)
	applied := make([]Requirement, 0, len(reqs))
	for _, req := range reqs {
		_, err := s.stock.ApplyMovement(ctx, MovementInput{
			IngredientID:  req.IngredientID,
			Type:          models.MovementOrderDeduct,
			Quantity:      req.Quantity,
			ReferenceType: models.ReferenceOrder,
			ReferenceID:   ref,
			Notes:         "order " + order.OrderNumber,
			CreatedBy:     actor.ID,
		})
		if err != nil {
			s.logger.Warn("Stock deduction failed, compensating",
				zap.Int64("order_id", order.ID),
				zap.Int64("ingredient_id", req.IngredientID),
				zap.Int("applied", len(applied)),
				zap.Error(err))
			status, err := s.compensate(ctx, order, applied, actor, err)
			return nil, status, err
		}
		applied = append(applied, req)
	}
	return applied, models.StockStatusDeducted, nil
}

// compensate returns applied deductions to stock, newest first
func (s *OrderService) compensate(ctx context.Context, order *models.Order, applied []Requirement, actor models.Actor, cause error) (string, error) {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		req := applied[i]
		_, err := s.stock.ApplyMovement(ctx, MovementInput{
			IngredientID:  req.IngredientID,
			Type:          models.MovementIn,
			Quantity:      req.Quantity,
			ReferenceType: models.ReferenceOrderCompensation,
			ReferenceID:   orderRef(order.ID),
			Notes:         "checkout rollback " + order.OrderNumber,
			CreatedBy:     actor.ID,
		})
		if err != nil {
			util.StockCompensationsTotal.WithLabelValues("failed").Inc()
			errs = append(errs, err)
			continue
		}
		util.StockCompensationsTotal.WithLabelValues("applied").Inc()
	}

	if len(errs) > 0 {
		util.StockUnreconciledTotal.WithLabelValues("checkout").Inc()
		s.logger.Error("Checkout compensation incomplete",
			zap.Int64("order_id", order.ID), zap.Error(errors.Join(errs...)))
		return models.StockStatusUnreconciled,
			fmt.Errorf("%w: order %d: %w", ErrPartialFailure, order.ID, errors.Join(append([]error{cause}, errs...)...))
	}
	return models.StockStatusCompensated, fmt.Errorf("checkout of order %d failed: %w", order.ID, cause)
}

func (s *OrderService) markFailed(ctx context.Context, order *models.Order, stockStatus string) {
	if err := s.orders.MarkOrderFailed(ctx, order.ID, stockStatus); err != nil {
		s.logger.Error("Failed to mark order failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	order.PaymentStatus = models.PaymentStatusFailed
	order.StockStatus = stockStatus
}

// adjustCustomer updates the customer aggregate. It is best effort: the
// order has already been committed.
func (s *OrderService) adjustCustomer(ctx context.Context, order *models.Order, count int, spent decimal.Decimal) {
	if order.CustomerID == nil {
		return
	}
	if err := s.customers.AdjustCustomerAggregate(ctx, *order.CustomerID, count, spent); err != nil {
		s.logger.Error("Failed to update customer aggregate",
			zap.Int64("order_id", order.ID),
			zap.Int64("customer_id", *order.CustomerID),
			zap.Error(err))
	}
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Total:         order.Total,
		PaymentStatus: order.PaymentStatus,
		Items:         data,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// MarkPaid settles a pending order
func (s *OrderService) MarkPaid(ctx context.Context, orderID int64, method string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid", attribute.Int64("order_id", orderID))
	defer span.End()

	method = strings.TrimSpace(method)
	if method == "" {
		return nil, invalidf("payment_method is required")
	}

	order, err := s.orders.MarkOrderPaid(ctx, orderID, method)
	if errors.Is(err, store.ErrStatusConflict) {
		current, getErr := s.orders.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		if current.IsTerminal() {
			return nil, fmt.Errorf("order %d is %s: %w", orderID, current.PaymentStatus, ErrAlreadyInTerminalState)
		}
		return nil, invalidf("order %d is already %s", orderID, current.PaymentStatus)
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.adjustCustomer(ctx, order, 1, order.Total)

	s.logger.Info("Order paid", zap.Int64("order_id", order.ID), zap.String("payment_method", method))

	event := &models.OrderPaidEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPaid),
		OrderID:       order.ID,
		PaymentMethod: method,
		Total:         order.Total,
	}
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
	return order, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}
