package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/catalog"
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
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testProduct() *catalog.Product {
	return &catalog.Product{
		ID: "3f1c7a52-6a0e-4c55-9a0f-0d6f1b2c3d4e",
		Fields: catalog.Fields{
			Name:  "Oak Desk",
			Price: 1299,
			SKU:   "DSK-01",
		},
	}
}

func TestPublisher_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes to the configured stream", func(t *testing.T) {
		client := new(MockRedisClient)
		p := NewPublisher(client, "stream:test", nil)

		var captured *redis.XAddArgs
		client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			captured = args
			return args.Stream == "stream:test"
		})).Return(nil)

		err := p.Notify(ctx, catalog.EventProductCreated, testProduct())
		require.NoError(t, err)
		client.AssertExpectations(t)

		require.NotNil(t, captured)
		assert.Equal(t, catalog.EventProductCreated, xaddValues(captured)["event_type"])
		assert.Equal(t, "DSK-01", xaddValues(captured)["sku"])
		assert.NotEmpty(t, xaddValues(captured)["event_id"])

		var payload ProductEvent
		require.NoError(t, json.Unmarshal([]byte(xaddValues(captured)["data"].(string)), &payload))
		assert.Equal(t, "Oak Desk", payload.Name)
		assert.Equal(t, 1299, payload.Price)
		assert.Equal(t, testProduct().ID, payload.ProductID)
		assert.Equal(t, xaddValues(captured)["event_id"], payload.EventID)
	})

	t.Run("surfaces redis errors", func(t *testing.T) {
		client := new(MockRedisClient)
		p := NewPublisher(client, "", nil)
		client.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))

		err := p.Notify(ctx, catalog.EventProductUpdated, testProduct())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, DefaultStream, p.Stream())
	})
}

func TestPublisher_PublishExplicitStream(t *testing.T) {
	ctx := context.Background()
	client := new(MockRedisClient)
	p := NewPublisher(client, "stream:default", nil)

	client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.Stream == "stream:other"
	})).Return(nil)

	id, err := p.Publish(ctx, "stream:other", NewProductEvent(catalog.EventProductUpdated, testProduct()))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-0", id)
	client.AssertExpectations(t)
}

func TestNewProductEvent(t *testing.T) {
	a := NewProductEvent(catalog.EventProductCreated, testProduct())
	b := NewProductEvent(catalog.EventProductCreated, testProduct())

	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, "DSK-01", a.SKU)
	assert.False(t, a.Timestamp.IsZero())
}
