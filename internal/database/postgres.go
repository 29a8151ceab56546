package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/events"
)

const productColumns = `id::text, sku, name, description, price, original_price, discount,
	image, images, brand, stock, in_stock, featured, source_url, created_at, updated_at`

// PostgresStore keeps catalog products in Postgres.
type PostgresStore struct {
	db     *DB
	outbox *OutboxRepository
	stream string
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps db. A non-empty outboxStream enables the outbox.
func NewPostgresStore(db *DB, outboxStream string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: outboxStream,
		logger: logger.With("component", "postgres_store"),
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// OutboxEnabled reports whether writes record outbox events.
func (s *PostgresStore) OutboxEnabled() bool {
	return s.stream != ""
}

// Outbox is the repository the relay drains.
func (s *PostgresStore) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *PostgresStore) FindBySKU(ctx context.Context, sku string) (*catalog.Product, error) {
	row := s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM catalog_products WHERE sku = $1`, sku)
	p, err := scanPostgresProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product %s: %w", sku, err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, f catalog.Fields) (*catalog.Product, error) {
	images, err := encodeImages(f.Images)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	query := `
		INSERT INTO catalog_products (
			id, sku, name, description, price, original_price, discount,
			image, images, brand, stock, in_stock, featured, source_url
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING ` + productColumns

	var p *catalog.Product
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query,
			id, nullableSKU(f.SKU), f.Name, f.Description, f.Price, f.OriginalPrice, f.Discount,
			f.Image, images, f.Brand, f.Stock, f.InStock, f.Featured, f.SourceURL,
		)
		var err error
		if p, err = scanPostgresProduct(row); err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return s.enqueue(ctx, tx, catalog.EventProductCreated, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, f catalog.Fields) (*catalog.Product, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	images, err := encodeImages(f.Images)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE catalog_products SET
			name = $2, description = $3, price = $4, original_price = $5, discount = $6,
			image = $7, images = $8, brand = $9, stock = $10, in_stock = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + productColumns

	var p *catalog.Product
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query,
			uid, f.Name, f.Description, f.Price, f.OriginalPrice, f.Discount,
			f.Image, images, f.Brand, f.Stock, f.InStock,
		)
		var err error
		p, err = scanPostgresProduct(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return s.enqueue(ctx, tx, catalog.EventProductUpdated, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) enqueue(ctx context.Context, tx pgx.Tx, eventType string, p *catalog.Product) error {
	if s.stream == "" {
		return nil
	}
	payload, err := json.Marshal(events.NewProductEvent(eventType, p))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   p.ID,
		EventType:     eventType,
		Payload:       payload,
		TargetStream:  s.stream,
	})
}

func scanPostgresProduct(row pgx.Row) (*catalog.Product, error) {
	var (
		p      catalog.Product
		sku    *string
		images []byte
	)
	err := row.Scan(
		&p.ID, &sku, &p.Name, &p.Description, &p.Price, &p.OriginalPrice, &p.Discount,
		&p.Image, &images, &p.Brand, &p.Stock, &p.InStock, &p.Featured, &p.SourceURL,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sku != nil {
		p.SKU = *sku
	}
	if p.Images, err = decodeImages(images); err != nil {
		return nil, err
	}
	return &p, nil
}
