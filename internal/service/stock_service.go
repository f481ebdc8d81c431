package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pos-service/config"
	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StockService owns ingredient stock levels and the movement ledger
type StockService struct {
	store         StockStore
	publisher     EventPublisher
	allowNegative bool
	historyLimit  int
	logger        *zap.Logger
}

// NewStockService creates a new stock service. A nil publisher disables events.
func NewStockService(store StockStore, publisher EventPublisher, cfg config.BusinessConfig) *StockService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	limit := cfg.MovementHistoryLimit
	if limit <= 0 {
		limit = 100
	}
	return &StockService{
		store:         store,
		publisher:     publisher,
		allowNegative: cfg.AllowNegativeStock,
		historyLimit:  limit,
		logger:        util.GetLogger(),
	}
}

// MovementInput describes one change to an ingredient's stock
type MovementInput struct {
	IngredientID  int64           `json:"-"`
	Type          string          `json:"type" binding:"required"`
	Direction     string          `json:"direction,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     string          `json:"-"`
}

// signedDelta turns a movement's positive magnitude into the change it applies
func signedDelta(movementType, direction string, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, invalidf("quantity must be positive, got %s", qty)
	}
	switch movementType {
	case models.MovementIn:
		return qty, nil
	case models.MovementOut, models.MovementOrderDeduct:
		return qty.Neg(), nil
	case models.MovementAdjustment:
		switch direction {
		case models.DirectionIncrease:
			return qty, nil
		case models.DirectionDecrease:
			return qty.Neg(), nil
		}
		return decimal.Zero, invalidf("adjustment direction must be %q or %q", models.DirectionIncrease, models.DirectionDecrease)
	}
	return decimal.Zero, invalidf("unknown movement type %q", movementType)
}

// ApplyMovement writes one ledger entry and updates the ingredient's stock
func (s *StockService) ApplyMovement(ctx context.Context, in MovementInput) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockService.ApplyMovement",
		attribute.Int64("ingredient_id", in.IngredientID),
		attribute.String("type", in.Type))
	defer span.End()

	delta, err := signedDelta(in.Type, in.Direction, in.Quantity)
	if err != nil {
		return nil, err
	}

	mv := &models.StockMovement{
		IngredientID:  in.IngredientID,
		Type:          in.Type,
		Quantity:      in.Quantity,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Notes:         in.Notes,
		CreatedBy:     in.CreatedBy,
	}

	start := time.Now()
	err = s.store.ApplyStockDelta(ctx, mv, delta, s.allowNegative)
	util.StockMovementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to apply %s movement to ingredient %d: %w", in.Type, in.IngredientID, err)
	}

	util.StockMovementsTotal.WithLabelValues(mv.Type, mv.ReferenceType).Inc()
	s.logger.Info("Stock movement recorded",
		zap.Int64("movement_id", mv.ID),
		zap.Int64("ingredient_id", mv.IngredientID),
		zap.String("type", mv.Type),
		zap.String("quantity", mv.Quantity.String()),
		zap.String("new_stock", mv.NewStock.String()),
		zap.String("reference_type", mv.ReferenceType),
		zap.String("reference_id", mv.ReferenceID))

	event := &models.StockMovementRecordedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeStockMovementRecorded),
		MovementID:    mv.ID,
		IngredientID:  mv.IngredientID,
		Type:          mv.Type,
		Quantity:      mv.Quantity,
		NewStock:      mv.NewStock,
		ReferenceType: mv.ReferenceType,
		ReferenceID:   mv.ReferenceID,
	}
	if err := s.publisher.PublishStockMovement(ctx, event); err != nil {
		s.logger.Error("Failed to publish StockMovementRecorded event",
			zap.Int64("movement_id", mv.ID), zap.Error(err))
	}

	return mv, nil
}

// Adjust records a manual stock entry. Order deductions are reserved for checkout.
// A receipt that names a reference ID is booked against a purchase order.
func (s *StockService) Adjust(ctx context.Context, in MovementInput) (*models.StockMovement, error) {
	if in.Type == models.MovementOrderDeduct {
		return nil, invalidf("%s movements are recorded by checkout only", models.MovementOrderDeduct)
	}
	if in.ReferenceType == "" {
		in.ReferenceType = models.ReferenceManual
		if in.Type == models.MovementIn && in.ReferenceID != "" {
			in.ReferenceType = models.ReferencePurchaseOrder
		}
	}
	return s.ApplyMovement(ctx, in)
}

// GetCurrentStock returns the materialized stock of an ingredient
func (s *StockService) GetCurrentStock(ctx context.Context, ingredientID int64) (decimal.Decimal, error) {
	ing, err := s.store.GetIngredient(ctx, ingredientID)
	if err != nil {
		return decimal.Zero, err
	}
	return ing.CurrentStock, nil
}

// GetIngredient retrieves an ingredient by ID
func (s *StockService) GetIngredient(ctx context.Context, ingredientID int64) (*models.Ingredient, error) {
	return s.store.GetIngredient(ctx, ingredientID)
}

// CreateIngredient inserts an ingredient with zero stock and books any
// initial quantity as an adjustment, so the ledger replays to current stock.
func (s *StockService) CreateIngredient(ctx context.Context, ing *models.Ingredient, initial decimal.Decimal, createdBy string) (*models.Ingredient, error) {
	if strings.TrimSpace(ing.Name) == "" {
		return nil, invalidf("ingredient name is required")
	}
	switch ing.Unit {
	case models.UnitKilogram, models.UnitGram, models.UnitPiece:
	default:
		return nil, invalidf("unknown unit %q", ing.Unit)
	}
	if ing.MinStock.IsNegative() || ing.CostPerUnit.IsNegative() || initial.IsNegative() {
		return nil, invalidf("stock thresholds, cost and initial stock must not be negative")
	}

	ing.CurrentStock = decimal.Zero
	ing.IsActive = true
	if err := s.store.CreateIngredient(ctx, ing); err != nil {
		return nil, fmt.Errorf("failed to create ingredient: %w", err)
	}

	if initial.IsPositive() {
		_, err := s.ApplyMovement(ctx, MovementInput{
			IngredientID:  ing.ID,
			Type:          models.MovementAdjustment,
			Direction:     models.DirectionIncrease,
			Quantity:      initial,
			ReferenceType: models.ReferenceManual,
			Notes:         "initial stock",
			CreatedBy:     createdBy,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.store.GetIngredient(ctx, ing.ID)
}

// ListMovements returns the newest ledger entries of an ingredient
func (s *StockService) ListMovements(ctx context.Context, ingredientID int64, limit int) ([]models.StockMovement, error) {
	if _, err := s.store.GetIngredient(ctx, ingredientID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	return s.store.ListMovements(ctx, ingredientID, limit)
}

// LowStock lists active ingredients at or below their minimum
func (s *StockService) LowStock(ctx context.Context) ([]models.Ingredient, error) {
	return s.store.ListLowStock(ctx)
}

// ReconcileReport compares the materialized stock with a ledger replay
type ReconcileReport struct {
	IngredientID int64           `json:"ingredient_id"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	LedgerStock  decimal.Decimal `json:"ledger_stock"`
	Drift        decimal.Decimal `json:"drift"`
	Movements    int             `json:"movements"`
	BrokenLinks  []int64         `json:"broken_links,omitempty"`
	Consistent   bool            `json:"consistent"`
}

// Reconcile replays every movement of an ingredient from zero. A broken link
// is a movement whose previous_stock does not continue the replay, or whose
// snapshots disagree with its quantity.
func (s *StockService) Reconcile(ctx context.Context, ingredientID int64) (*ReconcileReport, error) {
	ctx, span := util.StartSpan(ctx, "StockService.Reconcile", attribute.Int64("ingredient_id", ingredientID))
	defer span.End()

	ing, err := s.store.GetIngredient(ctx, ingredientID)
	if err != nil {
		return nil, err
	}
	mvs, err := s.store.ListMovementsChronological(ctx, ingredientID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	report := &ReconcileReport{
		IngredientID: ingredientID,
		CurrentStock: ing.CurrentStock,
		Movements:    len(mvs),
	}

	running := decimal.Zero
	for i := range mvs {
		mv := &mvs[i]
		delta, err := replayDelta(mv)
		if err != nil || !mv.PreviousStock.Equal(running) || !mv.Delta().Equal(delta) {
			report.BrokenLinks = append(report.BrokenLinks, mv.ID)
		}
		if err == nil {
			running = running.Add(delta)
		}
	}

	report.LedgerStock = running
	report.Drift = ing.CurrentStock.Sub(running)
	report.Consistent = report.Drift.IsZero() && len(report.BrokenLinks) == 0

	if !report.Consistent {
		s.logger.Warn("Stock ledger drift detected",
			zap.Int64("ingredient_id", ingredientID),
			zap.String("current_stock", ing.CurrentStock.String()),
			zap.String("ledger_stock", running.String()),
			zap.Int("broken_links", len(report.BrokenLinks)))
	}
	return report, nil
}

// replayDelta recovers the signed quantity of a stored movement. Adjustments
// do not persist a direction, so their sign comes from the snapshots.
func replayDelta(mv *models.StockMovement) (decimal.Decimal, error) {
	if mv.Type == models.MovementAdjustment {
		direction := models.DirectionIncrease
		if mv.Delta().IsNegative() {
			direction = models.DirectionDecrease
		}
		return signedDelta(mv.Type, direction, mv.Quantity)
	}
	return signedDelta(mv.Type, "", mv.Quantity)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func orderRef(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}
