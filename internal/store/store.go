package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned when the referenced row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock is returned when a subtracting movement would go below zero
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStatusConflict is returned when a conditional status transition matched no row
	ErrStatusConflict = errors.New("order status conflict")
	// ErrDuplicate is returned on unique constraint violations
	ErrDuplicate = errors.New("duplicate")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema files in name order
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
	}
	return nil
}

// CreateIngredient inserts a new ingredient
func (s *Store) CreateIngredient(ctx context.Context, ing *models.Ingredient) error {
	query := `
		INSERT INTO ingredients (name, unit, current_stock, min_stock, cost_per_unit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		ing.Name, ing.Unit, ing.CurrentStock, ing.MinStock, ing.CostPerUnit, ing.IsActive,
	).Scan(&ing.ID, &ing.CreatedAt, &ing.UpdatedAt)
	return translate(err)
}

// GetIngredient retrieves an ingredient by ID
func (s *Store) GetIngredient(ctx context.Context, id int64) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := s.db.GetContext(ctx, &ing, "SELECT * FROM ingredients WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ingredient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

// ListLowStock returns active ingredients at or below their reorder threshold
func (s *Store) ListLowStock(ctx context.Context) ([]models.Ingredient, error) {
	var ings []models.Ingredient
	err := s.db.SelectContext(ctx, &ings,
		"SELECT * FROM ingredients WHERE is_active = TRUE AND current_stock <= min_stock ORDER BY current_stock ASC, id ASC")
	return ings, err
}

// ApplyStockDelta writes one ledger row and updates the materialized stock
// inside a single transaction. The ingredient row is locked for the duration,
// so concurrent movements on one ingredient serialize.
func (s *Store) ApplyStockDelta(ctx context.Context, mv *models.StockMovement, delta decimal.Decimal, allowNegative bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current decimal.Decimal
	err = tx.GetContext(ctx, &current,
		"SELECT current_stock FROM ingredients WHERE id = $1 FOR UPDATE", mv.IngredientID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("ingredient %d: %w", mv.IngredientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock ingredient: %w", err)
	}

	next := current.Add(delta)
	if !allowNegative && delta.IsNegative() && next.IsNegative() {
		return fmt.Errorf("ingredient %d has %s, needs %s: %w", mv.IngredientID, current, delta.Neg(), ErrInsufficientStock)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE ingredients SET current_stock = $1, updated_at = NOW() WHERE id = $2",
		next, mv.IngredientID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	mv.PreviousStock = current
	mv.NewStock = next

	query := `
		INSERT INTO stock_logs (ingredient_id, type, quantity, previous_stock, new_stock,
			reference_type, reference_id, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = tx.QueryRowxContext(ctx, query,
		mv.IngredientID, mv.Type, mv.Quantity, mv.PreviousStock, mv.NewStock,
		mv.ReferenceType, mv.ReferenceID, mv.Notes, mv.CreatedBy,
	).Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert stock log: %w", err)
	}

	return tx.Commit()
}

// ListMovements returns the newest movements of an ingredient first
func (s *Store) ListMovements(ctx context.Context, ingredientID int64, limit int) ([]models.StockMovement, error) {
	var mvs []models.StockMovement
	err := s.db.SelectContext(ctx, &mvs,
		"SELECT * FROM stock_logs WHERE ingredient_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		ingredientID, limit)
	return mvs, err
}

// ListMovementsChronological returns every movement of an ingredient in write order
func (s *Store) ListMovementsChronological(ctx context.Context, ingredientID int64) ([]models.StockMovement, error) {
	var mvs []models.StockMovement
	err := s.db.SelectContext(ctx, &mvs,
		"SELECT * FROM stock_logs WHERE ingredient_id = $1 ORDER BY id ASC", ingredientID)
	return mvs, err
}

// CreateRecipe inserts or replaces one bill-of-materials row
func (s *Store) CreateRecipe(ctx context.Context, r *models.Recipe) error {
	query := `
		INSERT INTO recipes (product_id, ingredient_id, qty_per_unit)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, ingredient_id) DO UPDATE SET qty_per_unit = EXCLUDED.qty_per_unit
		RETURNING id`

	return translate(s.db.GetContext(ctx, &r.ID, query, r.ProductID, r.IngredientID, r.QtyPerUnit))
}

// GetRecipesByProduct returns the bill of materials for a product
func (s *Store) GetRecipesByProduct(ctx context.Context, productID int64) ([]models.Recipe, error) {
	var rs []models.Recipe
	err := s.db.SelectContext(ctx, &rs,
		"SELECT * FROM recipes WHERE product_id = $1 ORDER BY ingredient_id", productID)
	return rs, err
}

// GetRecipesByIngredient returns every recipe row consuming an ingredient
func (s *Store) GetRecipesByIngredient(ctx context.Context, ingredientID int64) ([]models.Recipe, error) {
	var rs []models.Recipe
	err := s.db.SelectContext(ctx, &rs,
		"SELECT * FROM recipes WHERE ingredient_id = $1 ORDER BY product_id", ingredientID)
	return rs, err
}

// CreateCustomer inserts a customer
func (s *Store) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (name, order_count, total_spent)
		VALUES ($1, $2, $3)
		RETURNING id, updated_at`

	return s.db.QueryRowxContext(ctx, query, c.Name, c.OrderCount, c.TotalSpent).Scan(&c.ID, &c.UpdatedAt)
}

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AdjustCustomerAggregate applies deltas to order_count and total_spent, flooring both at zero
func (s *Store) AdjustCustomerAggregate(ctx context.Context, id int64, countDelta int, spentDelta decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET order_count = GREATEST(order_count + $1, 0),
		    total_spent = GREATEST(total_spent + $2, 0),
		    updated_at = NOW()
		WHERE id = $3`,
		countDelta, spentDelta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("customer %d: %w", id, ErrNotFound)
	}
	return nil
}
