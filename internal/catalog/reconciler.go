package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
)

const (
	DefaultBatchSize = 10

	EmptyImagesKeep = "keep"
	EmptyImagesSkip = "skip"
)

// ImageDownloader stores a remote image locally and returns the path the
// catalog should reference.
type ImageDownloader interface {
	Download(ctx context.Context, sku string, index int, url string) (string, error)
}

type Options struct {
	BatchSize      int
	BatchPause     time.Duration
	UpdateExisting bool
	// EmptyImagePolicy is EmptyImagesKeep or EmptyImagesSkip.
	EmptyImagePolicy string
	DefaultBrand     string
	DefaultStock     int

	Downloader ImageDownloader
	Notifier   Notifier
	Metrics    *metrics.Metrics
}

type Reconciler struct {
	store  Store
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewReconciler(store Store, opts Options, logger *slog.Logger) *Reconciler {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.EmptyImagePolicy == "" {
		opts.EmptyImagePolicy = EmptyImagesKeep
	}
	if opts.DefaultStock <= 0 {
		opts.DefaultStock = models.DefaultStock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		opts:   opts,
		logger: logger.With("component", "reconciler"),
		sleep:  sleepContext,
	}
}

type outcome string

const (
	outcomeCreated outcome = "created"
	outcomeUpdated outcome = "updated"
	outcomeSkipped outcome = "skipped"
	outcomeError   outcome = "error"
)

// Sync reconciles records in input order, BatchSize at a time, pausing
// between batches. A failing record is counted and never stops the run.
// Cancelling ctx stops before the next record.
func (r *Reconciler) Sync(ctx context.Context, records []models.ProductRecord) Result {
	var result Result
	started := time.Now()

	r.logger.Info("sync started", "records", len(records), "batch_size", r.opts.BatchSize)

	for start := 0; start < len(records); start += r.opts.BatchSize {
		if start > 0 && r.opts.BatchPause > 0 {
			if err := r.sleep(ctx, r.opts.BatchPause); err != nil {
				r.logger.Warn("sync interrupted", "error", err, "processed", start)
				break
			}
		}
		if ctx.Err() != nil {
			r.logger.Warn("sync interrupted", "error", ctx.Err(), "processed", start)
			break
		}

		end := min(start+r.opts.BatchSize, len(records))
		r.logger.Debug("processing batch", "from", start+1, "to", end)

		for i := start; i < end; i++ {
			rec := records[i]

			out, err := r.reconcile(ctx, rec)
			if err != nil {
				out = outcomeError
				r.logger.Error("failed to reconcile product", "name", rec.Name, "sku", rec.SKU, "error", err)
			}

			switch out {
			case outcomeCreated:
				result.Created++
			case outcomeUpdated:
				result.Updated++
			case outcomeSkipped:
				result.Skipped++
			default:
				result.Errors++
			}
			r.opts.Metrics.IncReconcile(string(out))
		}
	}

	r.logger.Info("sync finished",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration", time.Since(started).Round(time.Millisecond))

	return result
}

func (r *Reconciler) reconcile(ctx context.Context, rec models.ProductRecord) (outcome, error) {
	if len(rec.Images) == 0 && r.opts.EmptyImagePolicy == EmptyImagesSkip {
		r.logger.Debug("skipping product without images", "name", rec.Name, "sku", rec.SKU)
		return outcomeSkipped, nil
	}

	var existing *Product
	if rec.HasSKU() {
		found, err := r.store.FindBySKU(ctx, rec.SKU)
		if err != nil {
			return outcomeError, fmt.Errorf("find by sku: %w", err)
		}
		existing = found
	}

	if existing != nil && !r.opts.UpdateExisting {
		return outcomeSkipped, nil
	}

	fields := FieldsFrom(rec, r.localImages(ctx, rec))
	if fields.Brand == "" {
		fields.Brand = r.opts.DefaultBrand
	}

	if existing != nil {
		updated, err := r.store.Update(ctx, existing.ID, fields)
		if err != nil {
			return outcomeError, fmt.Errorf("update %s: %w", existing.ID, err)
		}
		r.logger.Debug("product updated", "id", updated.ID, "sku", rec.SKU)
		r.notify(ctx, EventProductUpdated, updated)
		return outcomeUpdated, nil
	}

	if fields.Stock == 0 && fields.InStock {
		fields.Stock = r.opts.DefaultStock
	}

	created, err := r.store.Create(ctx, fields)
	if err != nil {
		return outcomeError, fmt.Errorf("create: %w", err)
	}
	r.logger.Debug("product created", "id", created.ID, "sku", rec.SKU)
	r.notify(ctx, EventProductCreated, created)
	return outcomeCreated, nil
}

// localImages downloads every image when a downloader is configured. An
// image that fails keeps its remote URL. Returns nil without a downloader.
func (r *Reconciler) localImages(ctx context.Context, rec models.ProductRecord) []string {
	if r.opts.Downloader == nil || len(rec.Images) == 0 {
		return nil
	}

	out := make([]string, len(rec.Images))
	for i, remote := range rec.Images {
		local, err := r.opts.Downloader.Download(ctx, rec.SKU, i, remote)
		if err != nil {
			r.logger.Warn("image download failed, keeping remote url", "url", remote, "sku", rec.SKU, "error", err)
			r.opts.Metrics.IncImageDownload("failed")
			out[i] = remote
			continue
		}
		r.opts.Metrics.IncImageDownload("ok")
		out[i] = local
	}
	return out
}

func (r *Reconciler) notify(ctx context.Context, eventType string, p *Product) {
	if r.opts.Notifier == nil {
		return
	}
	if err := r.opts.Notifier.Notify(ctx, eventType, p); err != nil {
		r.logger.Warn("failed to publish catalog event", "event_type", eventType, "id", p.ID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
