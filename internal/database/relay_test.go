package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/events"
)

func xaddValues(args *redis.XAddArgs) map[string]interface{} {
	v, _ := args.Values.(map[string]interface{})
	return v
}

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func newTestRelay(redisClient *MockRedisClient, outbox *MockOutboxRepository, batchSize int) *Relay {
	logger := slog.Default()
	return &Relay{
		publisher: events.NewPublisher(redisClient, "stream:catalog_test", logger),
		outbox:    outbox,
		logger:    logger,
		interval:  50 * time.Millisecond,
		batchSize: batchSize,
	}
}

func outboxEvent(t *testing.T, sku string) *OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(events.ProductEvent{
		EventID:   uuid.NewString(),
		EventType: catalog.EventProductCreated,
		Timestamp: time.Now().UTC(),
		ProductID: uuid.NewString(),
		SKU:       sku,
		Name:      "Product " + sku,
		Price:     100,
	})
	require.NoError(t, err)

	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregateProduct,
		AggregateID:   sku,
		EventType:     catalog.EventProductCreated,
		Payload:       payload,
		TargetStream:  "stream:catalog_products",
	}
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("successfully process and publish events", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		pending := []*OutboxEvent{outboxEvent(t, "SKU-1"), outboxEvent(t, "SKU-2")}
		mockOutbox.On("GetPending", ctx, 10).Return(pending, nil)

		for _, event := range pending {
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == event.TargetStream &&
					xaddValues(args)["event_type"] == event.EventType &&
					xaddValues(args)["sku"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		published, err := relay.processEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle Redis publish failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		event := outboxEvent(t, "SKU-1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		published, err := relay.processEvents(ctx)
		assert.NoError(t, err)
		assert.Zero(t, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("malformed payload is marked failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		event := outboxEvent(t, "SKU-1")
		event.Payload = json.RawMessage(`{not json`)
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		_, err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle empty event batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		_, err := relay.processEvents(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("continue processing on individual event failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		pending := []*OutboxEvent{outboxEvent(t, "SKU-1"), outboxEvent(t, "SKU-2")}
		mockOutbox.On("GetPending", ctx, 10).Return(pending, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return xaddValues(args)["sku"] == "SKU-1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, pending[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return xaddValues(args)["sku"] == "SKU-2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, pending[1].ID).Return(nil)

		published, err := relay.processEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox query failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("conn closed"))

		_, err := relay.processEvents(ctx)
		assert.ErrorContains(t, err, "conn closed")
	})
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(mockRedis, mockOutbox, 2)

	first := []*OutboxEvent{outboxEvent(t, "SKU-1"), outboxEvent(t, "SKU-2")}
	second := []*OutboxEvent{outboxEvent(t, "SKU-3")}

	mockOutbox.On("GetPending", ctx, 2).Return(first, nil).Once()
	mockOutbox.On("GetPending", ctx, 2).Return(second, nil).Once()
	mockRedis.On("XAdd", ctx, mock.Anything).Return(nil)
	mockOutbox.On("MarkProcessed", ctx, mock.Anything).Return(nil)

	delivered, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	mockOutbox.AssertNumberOfCalls(t, "GetPending", 2)
	mockRedis.AssertNumberOfCalls(t, "XAdd", 3)
}

func TestRelay_Start(t *testing.T) {
	t.Run("stop on context cancellation", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- relay.Start(ctx)
		}()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("relay did not stop on context cancellation")
		}
	})
}

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{40, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, now.Add(tt.want), nextRetryTime(now, tt.retries), "retries=%d", tt.retries)
	}
}

func TestRelay_DrainStopsWhenNothingDelivers(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(mockRedis, mockOutbox, 2)

	stuck := []*OutboxEvent{outboxEvent(t, "SKU-1"), outboxEvent(t, "SKU-2")}
	mockOutbox.On("GetPending", ctx, 2).Return(stuck, nil)
	mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis down"))
	mockOutbox.On("MarkFailed", ctx, mock.Anything, mock.Anything).Return(errors.New("db down"))

	delivered, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	mockOutbox.AssertNumberOfCalls(t, "GetPending", 1)
}
