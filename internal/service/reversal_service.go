package service

import (
	"context"
	"errors"
	"fmt"
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

// ReversalService voids and refunds paid orders and restores their stock
type ReversalService struct {
	orders     OrderStore
	customers  CustomerStore
	stock      *StockService
	recipes    *RecipeResolver
	publisher  EventPublisher
	voidWindow time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewReversalService creates a new reversal service
func NewReversalService(
	orders OrderStore,
	customers CustomerStore,
	stock *StockService,
	recipes *RecipeResolver,
	publisher EventPublisher,
	cfg config.BusinessConfig,
) *ReversalService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &ReversalService{
		orders:     orders,
		customers:  customers,
		stock:      stock,
		recipes:    recipes,
		publisher:  publisher,
		voidWindow: time.Duration(cfg.VoidWindowMinutes) * time.Minute,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// VoidOrder cancels a paid order and restores all of its stock. Admins may
// void at any time; cashiers only within the void window.
func (s *ReversalService) VoidOrder(ctx context.Context, orderID int64, reason string, actor models.Actor) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ReversalService.VoidOrder",
		attribute.Int64("order_id", orderID),
		attribute.String("actor_role", actor.Role))
	defer span.End()

	if actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleCashier {
		s.reject("void", "role")
		return nil, fmt.Errorf("role %q cannot void orders: %w", actor.Role, ErrForbidden)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.reject("void", "invalid_input")
		return nil, invalidf("void_reason is required")
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(order); err != nil {
		s.reject("void", "status")
		return nil, err
	}

	now := s.now()
	if !actor.IsAdmin() && now.Sub(order.CreatedAt) > s.voidWindow {
		s.reject("void", "window")
		return nil, fmt.Errorf("order %d is older than %s, ask an admin: %w", orderID, s.voidWindow, ErrVoidWindowExpired)
	}

	voided, err := s.orders.MarkOrderVoided(ctx, orderID, reason, actor.ID, now)
	if err != nil {
		return nil, s.transitionError(ctx, "void", orderID, err)
	}

	restoreErr := s.restoreStock(ctx, voided, models.ReferenceVoid, actor)
	s.adjustCustomer(ctx, voided)

	util.OrdersVoidedTotal.WithLabelValues(actor.Role).Inc()
	s.logger.Info("Order voided",
		zap.Int64("order_id", orderID),
		zap.String("voided_by", actor.ID),
		zap.String("role", actor.Role),
		zap.String("reason", reason),
		zap.String("stock_status", voided.StockStatus))

	event := &models.OrderVoidedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderVoided),
		OrderID:   orderID,
		Reason:    reason,
		VoidedBy:  actor.ID,
	}
	if err := s.publisher.PublishOrderVoided(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderVoided event", zap.Error(err))
	}

	if restoreErr != nil {
		util.RecordError(span, restoreErr)
		return voided, restoreErr
	}
	return voided, nil
}

// RefundOrder records a refund on a paid order. Amounts accumulate; once
// they reach the order total the order becomes refunded and its stock is
// restored. Partial refunds never touch stock.
func (s *ReversalService) RefundOrder(ctx context.Context, orderID int64, amount decimal.Decimal, actor models.Actor) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ReversalService.RefundOrder",
		attribute.Int64("order_id", orderID),
		attribute.String("amount", amount.String()))
	defer span.End()

	if actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		s.reject("refund", "role")
		return nil, fmt.Errorf("only admins can refund: %w", ErrForbidden)
	}
	if !amount.IsPositive() {
		s.reject("refund", "invalid_input")
		return nil, invalidf("refund amount must be positive, got %s", amount)
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkReversible(order); err != nil {
		s.reject("refund", "status")
		return nil, err
	}
	remaining := order.Total.Sub(order.RefundAmount)
	if amount.GreaterThan(remaining) {
		s.reject("refund", "invalid_input")
		return nil, invalidf("refund amount %s exceeds refundable %s", amount, remaining)
	}

	refunded, err := s.orders.RecordRefund(ctx, orderID, amount, actor.ID, s.now())
	if err != nil {
		return nil, s.transitionError(ctx, "refund", orderID, err)
	}

	full := refunded.PaymentStatus == models.PaymentStatusRefunded
	var restoreErr error
	if full {
		restoreErr = s.restoreStock(ctx, refunded, models.ReferenceRefund, actor)
		s.adjustCustomer(ctx, refunded)
		util.OrdersRefundedTotal.WithLabelValues("full").Inc()
	} else {
		util.OrdersRefundedTotal.WithLabelValues("partial").Inc()
	}

	s.logger.Info("Order refunded",
		zap.Int64("order_id", orderID),
		zap.String("amount", amount.String()),
		zap.String("refund_total", refunded.RefundAmount.String()),
		zap.Bool("full", full),
		zap.String("refunded_by", actor.ID))

	event := &models.OrderRefundedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderRefunded),
		OrderID:       orderID,
		Amount:        amount,
		RefundTotal:   refunded.RefundAmount,
		Full:          full,
		RefundedBy:    actor.ID,
		PaymentStatus: refunded.PaymentStatus,
	}
	if err := s.publisher.PublishOrderRefunded(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderRefunded event", zap.Error(err))
	}

	if restoreErr != nil {
		util.RecordError(span, restoreErr)
		return refunded, restoreErr
	}
	return refunded, nil
}

func checkReversible(order *models.Order) error {
	switch order.PaymentStatus {
	case models.PaymentStatusPaid:
		if order.StockStatus == models.StockStatusPending {
			return invalidf("checkout of order %d is still in progress", order.ID)
		}
		return nil
	case models.PaymentStatusPending:
		return invalidf("order %d is not paid", order.ID)
	}
	return fmt.Errorf("order %d is %s: %w", order.ID, order.PaymentStatus, ErrAlreadyInTerminalState)
}

// transitionError explains a lost compare-and-set on the order status
func (s *ReversalService) transitionError(ctx context.Context, operation string, orderID int64, err error) error {
	if !errors.Is(err, store.ErrStatusConflict) {
		return err
	}
	s.reject(operation, "conflict")
	current, getErr := s.orders.GetOrderByID(ctx, orderID)
	if getErr != nil {
		return getErr
	}
	if statusErr := checkReversible(current); statusErr != nil {
		return statusErr
	}
	// still paid: a concurrent refund used up the refundable amount
	return invalidf("%s of order %d exceeds refundable %s", operation, orderID, current.Total.Sub(current.RefundAmount))
}

// restoreStock returns an order's recipe quantities to stock. Only orders
// whose deductions are in effect are restored. Every line is attempted; any
// failure leaves the order unreconciled.
func (s *ReversalService) restoreStock(ctx context.Context, order *models.Order, referenceType string, actor models.Actor) error {
	switch order.StockStatus {
	case models.StockStatusDeducted:
	case models.StockStatusPending:
		return s.markUnreconciled(ctx, order, referenceType,
			fmt.Errorf("stock status of order %d was never settled", order.ID))
	default:
		return nil
	}

	items, err := s.orders.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return s.markUnreconciled(ctx, order, referenceType, err)
	}
	reqs, err := s.recipes.Requirements(ctx, items)
	if err != nil {
		return s.markUnreconciled(ctx, order, referenceType, err)
	}

	var errs []error
	for _, req := range reqs {
		_, err := s.stock.ApplyMovement(ctx, MovementInput{
			IngredientID:  req.IngredientID,
			Type:          models.MovementIn,
			Quantity:      req.Quantity,
			ReferenceType: referenceType,
			ReferenceID:   orderRef(order.ID),
			Notes:         referenceType + " " + order.OrderNumber,
			CreatedBy:     actor.ID,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return s.markUnreconciled(ctx, order, referenceType, errors.Join(errs...))
	}

	if err := s.orders.UpdateStockStatus(ctx, order.ID, models.StockStatusRestored); err != nil {
		s.logger.Error("Failed to record stock status", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	order.StockStatus = models.StockStatusRestored
	return nil
}

func (s *ReversalService) markUnreconciled(ctx context.Context, order *models.Order, operation string, cause error) error {
	util.StockUnreconciledTotal.WithLabelValues(operation).Inc()
	s.logger.Error("Stock restoration incomplete",
		zap.Int64("order_id", order.ID), zap.String("operation", operation), zap.Error(cause))

	if err := s.orders.UpdateStockStatus(ctx, order.ID, models.StockStatusUnreconciled); err != nil {
		s.logger.Error("Failed to record stock status", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	order.StockStatus = models.StockStatusUnreconciled
	return fmt.Errorf("%w: order %d %s: %w", ErrPartialFailure, order.ID, operation, cause)
}

// adjustCustomer takes a reversed order out of the customer aggregate
func (s *ReversalService) adjustCustomer(ctx context.Context, order *models.Order) {
	if order.CustomerID == nil {
		return
	}
	if err := s.customers.AdjustCustomerAggregate(ctx, *order.CustomerID, -1, order.Total.Neg()); err != nil {
		s.logger.Error("Failed to update customer aggregate",
			zap.Int64("order_id", order.ID),
			zap.Int64("customer_id", *order.CustomerID),
			zap.Error(err))
	}
}

func (s *ReversalService) reject(operation, reason string) {
	util.ReversalsRejectedTotal.WithLabelValues(operation, reason).Inc()
}
