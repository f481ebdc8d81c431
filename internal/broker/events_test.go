package broker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = util.InitLogger("test")
	os.Exit(m.Run())
}

type published struct {
	key   string
	event interface{}
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, event: event})
	return nil
}

func TestEventPublisherKeys(t *testing.T) {
	fake := &fakePublisher{}
	ep := NewEventPublisher(fake)
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderCreated(ctx, &models.OrderCreatedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderCreated}, OrderID: 7}))
	require.NoError(t, ep.PublishOrderPaid(ctx, &models.OrderPaidEvent{OrderID: 7}))
	require.NoError(t, ep.PublishOrderVoided(ctx, &models.OrderVoidedEvent{OrderID: 7}))
	require.NoError(t, ep.PublishOrderRefunded(ctx, &models.OrderRefundedEvent{OrderID: 7}))
	require.NoError(t, ep.PublishStockMovement(ctx, &models.StockMovementRecordedEvent{IngredientID: 3}))

	require.Len(t, fake.sent, 5)
	for _, p := range fake.sent[:4] {
		assert.Equal(t, "order-7", p.key)
	}
	assert.Equal(t, "ingredient-3", fake.sent[4].key)
}

func TestEventPublisherPropagatesErrors(t *testing.T) {
	boom := errors.New("broker down")
	ep := NewEventPublisher(&fakePublisher{err: boom})

	err := ep.PublishStockMovement(context.Background(), &models.StockMovementRecordedEvent{IngredientID: 1})
	assert.ErrorIs(t, err, boom)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandleMessageRoutesStockMovements(t *testing.T) {
	eh := NewEventHandler()

	var got *models.StockMovementRecordedEvent
	eh.OnStockMovement(func(_ context.Context, e *models.StockMovementRecordedEvent) error {
		got = e
		return nil
	})

	event := &models.StockMovementRecordedEvent{
		BaseEvent:    models.BaseEvent{EventType: models.EventTypeStockMovementRecorded},
		MovementID:   11,
		IngredientID: 4,
		Type:         models.MovementOrderDeduct,
		Quantity:     decimal.RequireFromString("0.15"),
		NewStock:     decimal.RequireFromString("9.85"),
	}
	require.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))

	require.NotNil(t, got)
	assert.Equal(t, int64(4), got.IngredientID)
	assert.True(t, event.NewStock.Equal(got.NewStock))
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	eh := NewEventHandler()
	called := false
	eh.OnStockMovement(func(context.Context, *models.StockMovementRecordedEvent) error {
		called = true
		return nil
	})

	event := &models.OrderVoidedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderVoided}, OrderID: 1}
	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))
	assert.False(t, called)
}

func TestHandleMessageErrors(t *testing.T) {
	eh := NewEventHandler()

	err := eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)

	// no handler registered
	event := &models.StockMovementRecordedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeStockMovementRecorded}}
	assert.NoError(t, eh.HandleMessage(context.Background(), message(t, event)))

	boom := errors.New("handler failed")
	eh.OnStockMovement(func(context.Context, *models.StockMovementRecordedEvent) error { return boom })
	assert.ErrorIs(t, eh.HandleMessage(context.Background(), message(t, event)), boom)
}
