package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/events"
)

// setupTestDB connects to TEST_DATABASE_URL and resets both tables.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 2})
	require.NoError(t, err)

	_, err = db.Exec(ctx, postgresSchema)
	require.NoError(t, err)
	_, err = db.Exec(ctx, "TRUNCATE catalog_products, outbox_event")
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestPostgresStore_WritesOutboxInSameTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewPostgresStore(db, "stream:catalog_test", nil)

	created, err := store.Create(ctx, catalog.Fields{
		Name: "Oak Desk", Price: 1299, SKU: "DSK-01", InStock: true,
		Images: []string{"https://cdn.test/a.jpg"}, OriginalPrice: intPtr(1949),
	})
	require.NoError(t, err)

	found, err := store.FindBySKU(ctx, "DSK-01")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, []string{"https://cdn.test/a.jpg"}, found.Images)
	assert.Equal(t, intPtr(1949), found.OriginalPrice)

	_, err = store.Update(ctx, created.ID, catalog.Fields{Name: "Oak Desk v2", Price: 1199, SKU: "IGNORED"})
	require.NoError(t, err)

	pending, err := store.Outbox().GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, catalog.EventProductCreated, pending[0].EventType)
	assert.Equal(t, catalog.EventProductUpdated, pending[1].EventType)
	assert.Equal(t, "stream:catalog_test", pending[0].TargetStream)

	var payload events.ProductEvent
	require.NoError(t, json.Unmarshal(pending[1].Payload, &payload))
	assert.Equal(t, "DSK-01", payload.SKU)
	assert.Equal(t, 1199, payload.Price)

	counts, err := store.Outbox().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxCounts{Pending: 2}, counts)
}

func TestPostgresStore_FindMissingAndUpdateUnknown(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresStore(setupTestDB(t), "", nil)

	p, err := store.FindBySKU(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = store.Update(ctx, uuid.NewString(), catalog.Fields{Name: "x"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = store.Update(ctx, "not-a-uuid", catalog.Fields{Name: "x"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	t.Run("successful insert with transaction", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateProduct,
			AggregateID:   "p-1",
			EventType:     catalog.EventProductCreated,
			Payload:       json.RawMessage(`{"sku":"S-1"}`),
		}

		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, events.DefaultStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rollback on transaction failure", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateProduct,
			AggregateID:   "p-2",
			EventType:     catalog.EventProductCreated,
			Payload:       json.RawMessage(`{"sku":"S-2"}`),
		}

		err := db.WithTx(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return errors.New("abort")
		})
		assert.Error(t, err)

		var count int
		err = db.QueryRow(ctx, "SELECT COUNT(*) FROM outbox_event WHERE id = $1", event.ID).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestOutboxRepository_MarkFailedMovesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   "p-3",
		EventType:     catalog.EventProductUpdated,
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	for range MaxRetryCount {
		require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
	}

	var status string
	var retries int
	err := db.QueryRow(ctx, "SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).Scan(&status, &retries)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, MaxRetryCount, retries)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	past := time.Now().Add(-time.Minute)
	event := &OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   "p-4",
		EventType:     catalog.EventProductCreated,
		Payload:       json.RawMessage(`{}`),
		NextRetryAt:   &past,
	}
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRepository_MarkUnknownEvent(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(setupTestDB(t))

	assert.ErrorIs(t, repo.MarkProcessed(ctx, uuid.New()), ErrOutboxEventNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, uuid.New(), errors.New("redis down")), ErrOutboxEventNotFound)
}
