// Package jobs runs the scrape, snapshot and sync pipeline and tracks runs
// started through the service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/scraper"
	"github.com/maltedev/catalog-sync/internal/snapshot"
)

// Scraper is one prepared scrape session. It is used for a single run.
type Scraper interface {
	Run(ctx context.Context) (scraper.Result, error)
}

type Pipeline struct {
	// NewScraper builds a session with its own browser for every run.
	NewScraper   func(ctx context.Context) (Scraper, error)
	SnapshotFile string
	// Reconciler is nil when store sync is disabled.
	Reconciler *catalog.Reconciler
	// AfterSync runs once after a sync, e.g. to flush the event outbox.
	AfterSync func(ctx context.Context) error
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Report describes a finished pipeline run.
type Report struct {
	Scrape   scraper.Result
	Snapshot string
	Sync     *catalog.Result
	Duration time.Duration
}

// Run scrapes, writes the snapshot and, unless dryRun, reconciles the
// records. A listing failure still persists and syncs the products
// collected before it; the failure is returned afterwards.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) (Report, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")

	started := time.Now()
	report := Report{}

	sc, err := p.NewScraper(ctx)
	if err != nil {
		p.Metrics.IncRun("failed")
		return report, fmt.Errorf("prepare scraper: %w", err)
	}

	res, scrapeErr := sc.Run(ctx)
	report.Scrape = res
	if scrapeErr != nil && res.Pages == 0 {
		p.Metrics.IncRun("failed")
		report.Duration = time.Since(started)
		return report, scrapeErr
	}

	if p.SnapshotFile != "" {
		if err := snapshot.Write(p.SnapshotFile, res.Products); err != nil {
			p.Metrics.IncRun("failed")
			report.Duration = time.Since(started)
			return report, fmt.Errorf("write snapshot: %w", err)
		}
		report.Snapshot = p.SnapshotFile
		logger.Info("snapshot written", "file", p.SnapshotFile, "products", len(res.Products))
	}

	switch {
	case dryRun:
		logger.Info("dry run, skipping catalog sync")
	case p.Reconciler == nil:
		logger.Info("catalog sync disabled")
	default:
		sync := p.Reconciler.Sync(ctx, res.Products)
		report.Sync = &sync
		if p.AfterSync != nil {
			if err := p.AfterSync(ctx); err != nil {
				logger.Warn("post-sync step failed", "error", err)
			}
		}
	}

	report.Duration = time.Since(started)
	if scrapeErr != nil {
		p.Metrics.IncRun("failed")
		return report, scrapeErr
	}
	p.Metrics.IncRun("completed")
	return report, nil
}
