package main

import (
	"context"
	"fmt"

	"pos-service/internal/models"
	"pos-service/internal/service"

	"github.com/shopspring/decimal"
)

type demoIngredient struct {
	name    string
	unit    string
	initial string
	min     string
	cost    string
}

// demo menu: 1 burger, 2 fries, 3 latte, 4 canned drink (no recipe)
var demoIngredients = []demoIngredient{
	{"Beef patty", models.UnitPiece, "40", "10", "1.20"},
	{"Burger bun", models.UnitPiece, "40", "10", "0.25"},
	{"Potato", models.UnitKilogram, "15", "3", "0.90"},
	{"Espresso beans", models.UnitKilogram, "2", "0.5", "18.00"},
	{"Milk", models.UnitGram, "8000", "2000", "0.001"},
}

var demoRecipes = []struct {
	productID  int64
	ingredient int
	qty        string
}{
	{1, 0, "1"},
	{1, 1, "1"},
	{2, 2, "0.25"},
	{3, 3, "0.018"},
	{3, 4, "200"},
}

// seedDemoData fills an empty in-memory store so the API is usable locally
func seedDemoData(ctx context.Context, db posStore, stock *service.StockService) error {
	ids := make([]int64, len(demoIngredients))
	for i, d := range demoIngredients {
		ing, err := stock.CreateIngredient(ctx, &models.Ingredient{
			Name:        d.name,
			Unit:        d.unit,
			MinStock:    decimal.RequireFromString(d.min),
			CostPerUnit: decimal.RequireFromString(d.cost),
		}, decimal.RequireFromString(d.initial), "seed")
		if err != nil {
			return fmt.Errorf("seed ingredient %s: %w", d.name, err)
		}
		ids[i] = ing.ID
	}

	for _, r := range demoRecipes {
		err := db.CreateRecipe(ctx, &models.Recipe{
			ProductID:    r.productID,
			IngredientID: ids[r.ingredient],
			QtyPerUnit:   decimal.RequireFromString(r.qty),
		})
		if err != nil {
			return fmt.Errorf("seed recipe for product %d: %w", r.productID, err)
		}
	}

	return db.CreateCustomer(ctx, &models.Customer{Name: "Demo customer", TotalSpent: decimal.Zero})
}
