package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/maltedev/catalog-sync/internal/catalog"
)

const sqliteColumns = `id, sku, name, description, price, original_price, discount,
	image, images, brand, stock, in_stock, featured, source_url, created_at, updated_at`

// SQLiteStore keeps catalog products in a SQLite file, or in memory for ":memory:".
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite path must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: every ":memory:" connection is its own database and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "sqlite_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindBySKU(ctx context.Context, sku string) (*catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM catalog_products WHERE sku = ?`, sku)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product %s: %w", sku, err)
	}
	return p, nil
}

func (s *SQLiteStore) Create(ctx context.Context, f catalog.Fields) (*catalog.Product, error) {
	images, err := encodeImages(f.Images)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := s.now().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_products (
			id, sku, name, description, price, original_price, discount,
			image, images, brand, stock, in_stock, featured, source_url,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullableSKU(f.SKU), f.Name, f.Description, f.Price, f.OriginalPrice, f.Discount,
		f.Image, images, f.Brand, f.Stock, f.InStock, f.Featured, f.SourceURL,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert product: %w", err)
	}
	return s.get(ctx, id)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, f catalog.Fields) (*catalog.Product, error) {
	images, err := encodeImages(f.Images)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_products SET
			name = ?, description = ?, price = ?, original_price = ?, discount = ?,
			image = ?, images = ?, brand = ?, stock = ?, in_stock = ?, updated_at = ?
		WHERE id = ?`,
		f.Name, f.Description, f.Price, f.OriginalPrice, f.Discount,
		f.Image, images, f.Brand, f.Stock, f.InStock, s.now().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM catalog_products WHERE id = ?`, id)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return p, nil
}

func scanSQLiteProduct(row *sql.Row) (*catalog.Product, error) {
	var (
		p                    catalog.Product
		sku                  sql.NullString
		originalPrice        sql.NullInt64
		discount             sql.NullInt64
		images               string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&p.ID, &sku, &p.Name, &p.Description, &p.Price, &originalPrice, &discount,
		&p.Image, &images, &p.Brand, &p.Stock, &p.InStock, &p.Featured, &p.SourceURL,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.SKU = sku.String
	if originalPrice.Valid {
		v := int(originalPrice.Int64)
		p.OriginalPrice = &v
	}
	if discount.Valid {
		v := int(discount.Int64)
		p.Discount = &v
	}
	if p.Images, err = decodeImages([]byte(images)); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &p, nil
}
