package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/listing"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
	"github.com/maltedev/catalog-sync/internal/retry"
	"github.com/maltedev/catalog-sync/internal/runlog"
)

// Session is everything one run needs. The orchestrator owns Browser and
// closes it when Run returns.
type Session struct {
	Browser        browser.Browser
	Auth           Authenticator
	Paginator      Paginator
	Extractor      Extractor
	ProductLimiter ratelimit.RateLimiter
	Retry          retry.Policy
	Log            *runlog.Logger
	Metrics        *metrics.Metrics
}

// Result is what a run collected. Products keep listing order.
type Result struct {
	Products []models.ProductRecord `json:"products"`
	Pages    int                    `json:"pages"`
	Failed   int                    `json:"failed"`
}

type Orchestrator struct {
	s Session
}

func New(s Session) *Orchestrator {
	if s.Log == nil {
		s.Log = runlog.New(runlog.Options{})
	}
	return &Orchestrator{s: s}
}

// Run logs in, walks the listing and extracts every product.
//
// A login failure returns no products. A listing failure stops the walk
// but the products collected so far are returned alongside the error.
// Products that still fail after retries are logged and skipped.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	log := o.s.Log.With("component", "orchestrator")
	result := Result{Products: make([]models.ProductRecord, 0)}

	defer func() {
		if err := o.s.Browser.Close(); err != nil {
			log.Warn("failed to close browser", "error", err)
		}
	}()

	page, err := o.s.Auth.Login(ctx, o.s.Browser)
	if err != nil {
		o.s.Log.Fail("login failed", err)
		return result, fmt.Errorf("login: %w", err)
	}
	defer page.Close()

	started := time.Now()
	pages, err := o.s.Paginator.Walk(ctx, page, func(l *listing.Listing) error {
		o.s.Metrics.IncPages()

		for i, stub := range l.Stubs {
			log.Info("processing product",
				"page", l.Page,
				"index", i+1,
				"total", len(l.Stubs),
				"name", stub.Name,
				"url", stub.DetailURL)

			if o.s.ProductLimiter != nil {
				if err := o.s.ProductLimiter.Wait(ctx); err != nil {
					return err
				}
			}

			record, err := o.extract(ctx, stub)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result.Failed++
				o.s.Metrics.IncError(ErrorTypeLabel(err))
				o.s.Log.Fail("product failed", err,
					"name", stub.Name,
					"url", stub.DetailURL,
					"page", l.Page)
				continue
			}

			result.Products = append(result.Products, *record)
			o.s.Metrics.IncProducts()
		}
		return nil
	})
	result.Pages = pages

	if err != nil {
		var lerr *listing.Error
		if errors.As(err, &lerr) {
			o.s.Log.Fail("listing failed, stopping pagination", err, "page", lerr.Page, "collected", len(result.Products))
		}
		return result, err
	}

	log.Info("scrape finished",
		"pages", result.Pages,
		"products", len(result.Products),
		"failed", result.Failed,
		"duration", time.Since(started).Round(time.Millisecond))

	return result, nil
}

func (o *Orchestrator) extract(ctx context.Context, stub models.Stub) (*models.ProductRecord, error) {
	policy := o.s.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		o.s.Metrics.IncRetries()
		o.s.Log.Warn("retrying product",
			"name", stub.Name,
			"url", stub.DetailURL,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	started := time.Now()
	defer func() { o.s.Metrics.ObserveExtraction(time.Since(started)) }()

	record, err := retry.Do(ctx, policy, func(ctx context.Context) (*models.ProductRecord, error) {
		return o.s.Extractor.Extract(ctx, stub.DetailURL)
	})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", stub.DetailURL, err)
	}
	if record.Name == "" {
		record.Name = stub.Name
	}
	return record, nil
}
