package worker

import (
	"context"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/redisclient"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// IngredientReader loads the current state of an ingredient
type IngredientReader interface {
	GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error)
}

// LowStockFlagger records which ingredients are currently low
type LowStockFlagger interface {
	FlagLowStock(ctx context.Context, ingredientID int64, low bool) (redisclient.LowStockTransition, error)
	LowStockIngredients(ctx context.Context) ([]int64, error)
}

// LowStockWorker watches stock movement events and raises an alert once
// when an ingredient drops to its minimum, and again only after it recovers.
type LowStockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	ingredients  IngredientReader
	flags        LowStockFlagger
	logger       *zap.Logger
}

// NewLowStockWorker creates a new low stock worker
func NewLowStockWorker(consumer *broker.Consumer, ingredients IngredientReader, flags LowStockFlagger) *LowStockWorker {
	w := &LowStockWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ingredients:  ingredients,
		flags:        flags,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnStockMovement(w.HandleStockMovement)
	return w
}

// Start starts the worker
func (w *LowStockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting low stock worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LowStockWorker) Stop() error {
	w.logger.Info("Stopping low stock worker")
	return w.consumer.Close()
}

// HandleStockMovement re-evaluates the ingredient the movement touched
func (w *LowStockWorker) HandleStockMovement(ctx context.Context, event *models.StockMovementRecordedEvent) error {
	ing, err := w.ingredients.GetIngredient(ctx, event.IngredientID)
	if err != nil {
		return err
	}

	low := ing.IsActive && ing.IsLow()
	transition, err := w.flags.FlagLowStock(ctx, ing.ID, low)
	if err != nil {
		return err
	}

	switch transition {
	case redisclient.LowStockEntered:
		w.logger.Warn("Ingredient at or below minimum stock",
			zap.Int64("ingredient_id", ing.ID),
			zap.String("name", ing.Name),
			zap.String("current_stock", ing.CurrentStock.String()),
			zap.String("min_stock", ing.MinStock.String()),
			zap.String("unit", ing.Unit))
	case redisclient.LowStockRecovered:
		w.logger.Info("Ingredient stock recovered",
			zap.Int64("ingredient_id", ing.ID),
			zap.String("name", ing.Name),
			zap.String("current_stock", ing.CurrentStock.String()))
	default:
		return nil
	}

	flagged, err := w.flags.LowStockIngredients(ctx)
	if err != nil {
		return err
	}
	util.LowStockIngredients.Set(float64(len(flagged)))
	return nil
}
