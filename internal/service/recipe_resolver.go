package service

import (
	"context"
	"fmt"
	"sort"

	"pos-service/internal/models"

	"github.com/shopspring/decimal"
)

// RecipeLine is one ingredient consumed per unit of a product
type RecipeLine struct {
	IngredientID int64           `json:"ingredient_id"`
	QtyPerUnit   decimal.Decimal `json:"qty_per_unit"`
}

// Requirement is the total quantity of one ingredient an order consumes
type Requirement struct {
	IngredientID int64
	Quantity     decimal.Decimal
}

// RecipeResolver maps products to their bill of materials
type RecipeResolver struct {
	store RecipeStore
}

func NewRecipeResolver(store RecipeStore) *RecipeResolver {
	return &RecipeResolver{store: store}
}

// Resolve returns the recipe of a product. A product without recipe rows
// resolves to an empty list.
func (r *RecipeResolver) Resolve(ctx context.Context, productID int64) ([]RecipeLine, error) {
	rows, err := r.store.GetRecipesByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe for product %d: %w", productID, err)
	}
	lines := make([]RecipeLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, RecipeLine{IngredientID: row.IngredientID, QtyPerUnit: row.QtyPerUnit})
	}
	return lines, nil
}

// ForIngredient returns every recipe row that consumes an ingredient
func (r *RecipeResolver) ForIngredient(ctx context.Context, ingredientID int64) ([]models.Recipe, error) {
	return r.store.GetRecipesByIngredient(ctx, ingredientID)
}

// Requirements sums recipe consumption across order lines, one entry per
// ingredient, sorted by ingredient ID so concurrent orders lock in the same order.
func (r *RecipeResolver) Requirements(ctx context.Context, items []models.OrderItem) ([]Requirement, error) {
	recipes := make(map[int64][]RecipeLine)
	totals := make(map[int64]decimal.Decimal)

	for _, item := range items {
		lines, ok := recipes[item.ProductID]
		if !ok {
			var err error
			lines, err = r.Resolve(ctx, item.ProductID)
			if err != nil {
				return nil, err
			}
			recipes[item.ProductID] = lines
		}

		qty := decimal.NewFromInt(int64(item.Quantity))
		for _, line := range lines {
			totals[line.IngredientID] = totals[line.IngredientID].Add(line.QtyPerUnit.Mul(qty))
		}
	}

	reqs := make([]Requirement, 0, len(totals))
	for id, total := range totals {
		if !total.IsPositive() {
			continue
		}
		reqs = append(reqs, Requirement{IngredientID: id, Quantity: total})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].IngredientID < reqs[j].IngredientID })
	return reqs, nil
}
