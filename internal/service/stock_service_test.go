package service

import (
	"errors"
	"sync"
	"testing"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedDelta(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		direction string
		qty       string
		want      string
		wantErr   bool
	}{
		{name: "in adds", typ: models.MovementIn, qty: "2.5", want: "2.5"},
		{name: "out subtracts", typ: models.MovementOut, qty: "1", want: "-1"},
		{name: "order deduct subtracts", typ: models.MovementOrderDeduct, qty: "0.25", want: "-0.25"},
		{name: "adjustment increase", typ: models.MovementAdjustment, direction: models.DirectionIncrease, qty: "3", want: "3"},
		{name: "adjustment decrease", typ: models.MovementAdjustment, direction: models.DirectionDecrease, qty: "3", want: "-3"},
		{name: "adjustment without direction", typ: models.MovementAdjustment, qty: "3", wantErr: true},
		{name: "zero quantity", typ: models.MovementIn, qty: "0", wantErr: true},
		{name: "negative quantity", typ: models.MovementIn, qty: "-1", wantErr: true},
		{name: "unknown type", typ: "transfer", qty: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := signedDelta(tt.typ, tt.direction, dec(tt.qty))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assertDecimal(t, tt.want, got)
		})
	}
}

func TestApplyMovementWritesSnapshots(t *testing.T) {
	f := newFixture(t)
	flour := f.ingredient(t, "Flour", "10", "2")

	mv, err := f.stock.ApplyMovement(f.ctx, MovementInput{
		IngredientID:  flour.ID,
		Type:          models.MovementOut,
		Quantity:      dec("1.5"),
		ReferenceType: models.ReferenceManual,
		CreatedBy:     admin.ID,
	})
	require.NoError(t, err)

	assertDecimal(t, "10", mv.PreviousStock)
	assertDecimal(t, "8.5", mv.NewStock)
	assertDecimal(t, "-1.5", mv.Delta())
	assertDecimal(t, "8.5", f.stockOf(t, flour.ID))

	require.NotEmpty(t, f.publisher.stock)
	last := f.publisher.stock[len(f.publisher.stock)-1]
	assert.Equal(t, models.EventTypeStockMovementRecorded, last.EventType)
	assert.Equal(t, mv.ID, last.MovementID)
	assertDecimal(t, "8.5", last.NewStock)
}

func TestApplyMovementUnknownIngredient(t *testing.T) {
	f := newFixture(t)

	_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
		IngredientID: 999,
		Type:         models.MovementIn,
		Quantity:     dec("1"),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyMovementNegativeStockPolicy(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		f := newFixture(t)
		milk := f.ingredient(t, "Milk", "1", "0")

		_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
			IngredientID: milk.ID, Type: models.MovementOut, Quantity: dec("3"),
		})
		require.NoError(t, err)
		assertDecimal(t, "-2", f.stockOf(t, milk.ID))
	})

	t.Run("rejected when disabled", func(t *testing.T) {
		cfg := testBusinessConfig()
		cfg.AllowNegativeStock = false
		f := newFixtureWithConfig(t, cfg)
		milk := f.ingredient(t, "Milk", "1", "0")

		_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
			IngredientID: milk.ID, Type: models.MovementOut, Quantity: dec("3"),
		})
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assertDecimal(t, "1", f.stockOf(t, milk.ID))
		assert.Equal(t, 1, f.movementCount(t, milk.ID))
	})
}

func TestCreateIngredientBooksInitialStock(t *testing.T) {
	f := newFixture(t)

	ing := f.ingredient(t, "Sugar", "5", "1")
	assertDecimal(t, "5", ing.CurrentStock)
	assert.True(t, ing.IsActive)

	mvs, err := f.stock.ListMovements(f.ctx, ing.ID, 0)
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	assert.Equal(t, models.MovementAdjustment, mvs[0].Type)
	assertDecimal(t, "0", mvs[0].PreviousStock)
	assertDecimal(t, "5", mvs[0].NewStock)

	empty := f.ingredient(t, "Salt", "0", "0")
	assert.Equal(t, 0, f.movementCount(t, empty.ID))
}

func TestCreateIngredientValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.stock.CreateIngredient(f.ctx, &models.Ingredient{Name: "", Unit: models.UnitGram}, decimal.Zero, admin.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.stock.CreateIngredient(f.ctx, &models.Ingredient{Name: "Oil", Unit: "litre"}, decimal.Zero, admin.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.stock.CreateIngredient(f.ctx, &models.Ingredient{Name: "Oil", Unit: models.UnitGram}, dec("-1"), admin.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdjustRejectsOrderDeduct(t *testing.T) {
	f := newFixture(t)
	rice := f.ingredient(t, "Rice", "10", "1")

	_, err := f.stock.Adjust(f.ctx, MovementInput{
		IngredientID: rice.ID, Type: models.MovementOrderDeduct, Quantity: dec("1"),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	mv, err := f.stock.Adjust(f.ctx, MovementInput{
		IngredientID: rice.ID, Type: models.MovementIn, Quantity: dec("4"), CreatedBy: admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceManual, mv.ReferenceType)
	assertDecimal(t, "14", f.stockOf(t, rice.ID))
}

func TestAdjustBooksReceiptsAgainstPurchaseOrder(t *testing.T) {
	f := newFixture(t)
	rice := f.ingredient(t, "Rice", "10", "1")

	mv, err := f.stock.Adjust(f.ctx, MovementInput{
		IngredientID: rice.ID, Type: models.MovementIn, Quantity: dec("25"),
		ReferenceID: "PO-2026-0117", CreatedBy: admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReferencePurchaseOrder, mv.ReferenceType)
	assert.Equal(t, "PO-2026-0117", mv.ReferenceID)

	spill, err := f.stock.Adjust(f.ctx, MovementInput{
		IngredientID: rice.ID, Type: models.MovementOut, Quantity: dec("1"),
		ReferenceID: "bin-4", CreatedBy: admin.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceManual, spill.ReferenceType)
	assertDecimal(t, "34", f.stockOf(t, rice.ID))
}

func TestListMovementsNewestFirst(t *testing.T) {
	f := newFixture(t)
	beans := f.ingredient(t, "Beans", "10", "1")

	for i := 0; i < 3; i++ {
		_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
			IngredientID: beans.ID, Type: models.MovementOut, Quantity: dec("1"),
		})
		require.NoError(t, err)
	}

	mvs, err := f.stock.ListMovements(f.ctx, beans.ID, 2)
	require.NoError(t, err)
	require.Len(t, mvs, 2)
	assertDecimal(t, "7", mvs[0].NewStock)
	assertDecimal(t, "8", mvs[1].NewStock)

	_, err = f.stock.ListMovements(f.ctx, 12345, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLowStock(t *testing.T) {
	f := newFixture(t)
	f.ingredient(t, "Plenty", "10", "2")
	low := f.ingredient(t, "Scarce", "2", "2")

	ings, err := f.stock.LowStock(f.ctx)
	require.NoError(t, err)
	require.Len(t, ings, 1)
	assert.Equal(t, low.ID, ings[0].ID)
}

// Ledger replay from zero must land on the materialized stock after any mix
// of movements, including checkouts and reversals.
func TestReconcileLedgerReplay(t *testing.T) {
	f := newFixture(t)
	coffee := f.ingredient(t, "Coffee", "2", "0.5")
	f.recipe(t, 100, coffee.ID, "0.018")

	_, err := f.stock.Adjust(f.ctx, MovementInput{
		IngredientID: coffee.ID, Type: models.MovementAdjustment, Direction: models.DirectionDecrease, Quantity: dec("0.1"),
	})
	require.NoError(t, err)

	order, _, err := f.checkout(paidOrder(line(100, 4, "3.50")), cashier)
	require.NoError(t, err)
	_, err = f.reversal.VoidOrder(f.ctx, order.ID, "wrong table", admin)
	require.NoError(t, err)
	_, _, err = f.checkout(paidOrder(line(100, 2, "3.50")), cashier)
	require.NoError(t, err)

	report, err := f.stock.Reconcile(f.ctx, coffee.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Empty(t, report.BrokenLinks)
	assert.Equal(t, 5, report.Movements)
	assertDecimal(t, "1.864", report.LedgerStock)
	assertDecimal(t, "1.864", report.CurrentStock)
	assert.True(t, report.Drift.IsZero())
}

func TestReconcileDetectsBrokenLinks(t *testing.T) {
	f := newFixture(t)
	tea := f.ingredient(t, "Tea", "1", "0")

	// a write that bypasses the ledger
	mv := &models.StockMovement{IngredientID: tea.ID, Type: models.MovementIn, Quantity: dec("1")}
	require.NoError(t, f.store.MemoryStore.ApplyStockDelta(f.ctx, mv, dec("3"), true))

	report, err := f.stock.Reconcile(f.ctx, tea.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, []int64{mv.ID}, report.BrokenLinks)
	assertDecimal(t, "4", report.CurrentStock)
	assertDecimal(t, "2", report.LedgerStock)
	assertDecimal(t, "2", report.Drift)
}

func TestConcurrentMovementsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	flour := f.ingredient(t, "Flour", "100", "0")

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := models.MovementOut
			if i%2 == 0 {
				typ = models.MovementIn
			}
			_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
				IngredientID: flour.ID, Type: typ, Quantity: dec("0.5"),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertDecimal(t, "100", f.stockOf(t, flour.ID))
	report, err := f.stock.Reconcile(f.ctx, flour.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, workers+1, report.Movements)
}

func TestApplyMovementWrapsStoreErrors(t *testing.T) {
	f := newFixture(t)
	egg := f.ingredient(t, "Egg", "12", "6")
	f.store.failOn(egg.ID, "")

	_, err := f.stock.ApplyMovement(f.ctx, MovementInput{
		IngredientID: egg.ID, Type: models.MovementIn, Quantity: dec("1"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestNewBaseEvent(t *testing.T) {
	a := newBaseEvent(models.EventTypeOrderVoided)
	b := newBaseEvent(models.EventTypeOrderVoided)

	assert.Equal(t, models.EventTypeOrderVoided, a.EventType)
	assert.NotEmpty(t, a.EventID)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.False(t, a.Timestamp.IsZero())
}
