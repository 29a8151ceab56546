// Package events publishes catalog change events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-sync/internal/catalog"
)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "stream:catalog_products"

// ProductEvent is the payload consumers read from the stream.
type ProductEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	ProductID string    `json:"product_id"`
	SKU       string    `json:"sku,omitempty"`
	Name      string    `json:"name"`
	Price     int       `json:"price"`
}

// NewProductEvent stamps a fresh event for p.
func NewProductEvent(eventType string, p *catalog.Product) ProductEvent {
	return ProductEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		ProductID: p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     p.Price,
	}
}

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Publisher writes product events with XADD.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

var _ catalog.Notifier = (*Publisher)(nil)

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// Stream is the default target stream.
func (p *Publisher) Stream() string {
	return p.stream
}

// Notify publishes eventType for product on the default stream.
func (p *Publisher) Notify(ctx context.Context, eventType string, product *catalog.Product) error {
	_, err := p.Publish(ctx, p.stream, NewProductEvent(eventType, product))
	return err
}

// Publish appends e to stream and returns the entry ID Redis assigned.
func (p *Publisher) Publish(ctx context.Context, stream string, e ProductEvent) (string, error) {
	if stream == "" {
		stream = p.stream
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_id":   e.EventID,
			"event_type": e.EventType,
			"product_id": e.ProductID,
			"sku":        e.SKU,
			"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
			"data":       string(data),
		},
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Debug("event published",
		"stream", stream,
		"type", e.EventType,
		"event_id", e.EventID,
		"sku", e.SKU,
		"entry_id", id,
	)
	return id, nil
}

// Close closes the underlying Redis client.
func (p *Publisher) Close() error {
	return p.redis.Close()
}
