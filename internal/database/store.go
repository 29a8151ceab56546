package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/catalog-sync/internal/catalog"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is a catalog.Store that owns its connection.
type Store interface {
	catalog.Store
	Migrate(ctx context.Context) error
	Close() error
}

type Options struct {
	Driver   string
	URL      string
	MaxConns int32
	// OutboxStream, when set, makes the Postgres store record a change
	// event in outbox_event inside every write transaction.
	OutboxStream string
}

// Open connects to the configured backend and migrates it.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch strings.ToLower(opts.Driver) {
	case DriverPostgres, "postgresql", "pgx":
		var db *DB
		db, err = New(ctx, Config{URL: opts.URL, MaxConns: opts.MaxConns})
		if err != nil {
			return nil, err
		}
		store = NewPostgresStore(db, opts.OutboxStream, logger)
	case DriverSQLite, "sqlite3":
		store, err = OpenSQLite(ctx, opts.URL, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logger.Info("catalog store ready", "driver", opts.Driver)
	return store, nil
}

func nullableSKU(sku string) any {
	if sku == "" {
		return nil
	}
	return sku
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("failed to encode images: %w", err)
	}
	return string(data), nil
}

func decodeImages(raw []byte) ([]string, error) {
	images := []string{}
	if len(raw) == 0 {
		return images, nil
	}
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	return images, nil
}
