package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"pos-service/config"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = util.InitLogger("test")
	os.Exit(m.Run())
}

var (
	admin   = models.Actor{ID: "u-admin", Role: models.RoleAdmin}
	cashier = models.Actor{ID: "u-cashier", Role: models.RoleCashier}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var errInjected = errors.New("injected store failure")

// faultyStore fails ApplyStockDelta for chosen ingredients and movement types
type faultyStore struct {
	*store.MemoryStore
	mu         sync.Mutex
	fail       map[int64]string
	failStatus string
	gate       *deductGate
}

// deductGate holds the next order_deduct movement until released
type deductGate struct {
	reached chan struct{}
	release chan struct{}
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: store.NewMemoryStore(), fail: make(map[int64]string)}
}

// failOn makes movements of movementType on ingredientID fail. An empty
// type fails every movement on the ingredient.
func (f *faultyStore) failOn(ingredientID int64, movementType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[ingredientID] = movementType
}

func (f *faultyStore) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[int64]string)
}

// failStockStatusUpdate makes UpdateStockStatus fail when it writes status
func (f *faultyStore) failStockStatusUpdate(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStatus = status
}

// holdNextDeduction pauses the next order_deduct movement before it is applied
func (f *faultyStore) holdNextDeduction() *deductGate {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = &deductGate{reached: make(chan struct{}), release: make(chan struct{})}
	return f.gate
}

func (f *faultyStore) ApplyStockDelta(ctx context.Context, mv *models.StockMovement, delta decimal.Decimal, allowNegative bool) error {
	f.mu.Lock()
	t, ok := f.fail[mv.IngredientID]
	gate := f.gate
	if gate != nil && mv.Type == models.MovementOrderDeduct {
		f.gate = nil
	} else {
		gate = nil
	}
	f.mu.Unlock()

	if gate != nil {
		close(gate.reached)
		<-gate.release
	}
	if ok && (t == "" || t == mv.Type) {
		return errInjected
	}
	return f.MemoryStore.ApplyStockDelta(ctx, mv, delta, allowNegative)
}

func (f *faultyStore) UpdateStockStatus(ctx context.Context, id int64, stockStatus string) error {
	f.mu.Lock()
	fail := f.failStatus != "" && f.failStatus == stockStatus
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.MemoryStore.UpdateStockStatus(ctx, id, stockStatus)
}

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	paid     []*models.OrderPaidEvent
	voided   []*models.OrderVoidedEvent
	refunded []*models.OrderRefundedEvent
	stock    []*models.StockMovementRecordedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return nil
}

func (p *recordingPublisher) PublishOrderVoided(_ context.Context, e *models.OrderVoidedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voided = append(p.voided, e)
	return nil
}

func (p *recordingPublisher) PublishOrderRefunded(_ context.Context, e *models.OrderRefundedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunded = append(p.refunded, e)
	return nil
}

func (p *recordingPublisher) PublishStockMovement(_ context.Context, e *models.StockMovementRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, e)
	return nil
}

type fixture struct {
	ctx       context.Context
	store     *faultyStore
	publisher *recordingPublisher
	stock     *StockService
	recipes   *RecipeResolver
	orders    *OrderService
	reversal  *ReversalService
}

func testBusinessConfig() config.BusinessConfig {
	return config.BusinessConfig{
		VoidWindowMinutes:     30,
		AllowNegativeStock:    true,
		OrderNumberPrefix:     "ORD",
		IdempotencyTTLSeconds: 3600,
		MovementHistoryLimit:  50,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, testBusinessConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.BusinessConfig) *fixture {
	t.Helper()

	st := newFaultyStore()
	pub := &recordingPublisher{}
	stock := NewStockService(st, pub, cfg)
	recipes := NewRecipeResolver(st)
	numbers := NewOrderNumberGenerator(nil, cfg.OrderNumberPrefix)

	return &fixture{
		ctx:       context.Background(),
		store:     st,
		publisher: pub,
		stock:     stock,
		recipes:   recipes,
		orders:    NewOrderService(st, st, stock, recipes, numbers, pub, cfg),
		reversal:  NewReversalService(st, st, stock, recipes, pub, cfg),
	}
}

func (f *fixture) ingredient(t *testing.T, name, initial, min string) *models.Ingredient {
	t.Helper()
	ing, err := f.stock.CreateIngredient(f.ctx, &models.Ingredient{
		Name:     name,
		Unit:     models.UnitKilogram,
		MinStock: dec(min),
	}, dec(initial), admin.ID)
	require.NoError(t, err)
	return ing
}

func (f *fixture) recipe(t *testing.T, productID, ingredientID int64, qty string) {
	t.Helper()
	require.NoError(t, f.store.CreateRecipe(f.ctx, &models.Recipe{
		ProductID:    productID,
		IngredientID: ingredientID,
		QtyPerUnit:   dec(qty),
	}))
}

func (f *fixture) customer(t *testing.T) *models.Customer {
	t.Helper()
	c := &models.Customer{Name: "Walk-in regular", TotalSpent: decimal.Zero}
	require.NoError(t, f.store.CreateCustomer(f.ctx, c))
	return c
}

// checkout runs CreateOrder and unpacks the result
func (f *fixture) checkout(input *CreateOrderInput, actor models.Actor) (*models.Order, []models.OrderItem, error) {
	res, err := f.orders.CreateOrder(f.ctx, input, actor)
	if err != nil {
		return nil, nil, err
	}
	return res.Order, res.Items, nil
}

func (f *fixture) stockOf(t *testing.T, ingredientID int64) decimal.Decimal {
	t.Helper()
	qty, err := f.stock.GetCurrentStock(f.ctx, ingredientID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) movementCount(t *testing.T, ingredientID int64) int {
	t.Helper()
	mvs, err := f.store.ListMovementsChronological(f.ctx, ingredientID)
	require.NoError(t, err)
	return len(mvs)
}

func paidOrder(items ...OrderItemInput) *CreateOrderInput {
	return &CreateOrderInput{Items: items, PaymentMethod: "cash"}
}

func line(productID int64, qty int, price string) OrderItemInput {
	return OrderItemInput{ProductID: productID, Quantity: qty, UnitPrice: dec(price)}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
