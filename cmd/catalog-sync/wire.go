package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-sync/internal/auth"
	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/config"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/events"
	"github.com/maltedev/catalog-sync/internal/extract"
	"github.com/maltedev/catalog-sync/internal/imagecheck"
	"github.com/maltedev/catalog-sync/internal/jobs"
	"github.com/maltedev/catalog-sync/internal/listing"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
	"github.com/maltedev/catalog-sync/internal/retry"
	"github.com/maltedev/catalog-sync/internal/runlog"
	"github.com/maltedev/catalog-sync/internal/scraper"
	"github.com/maltedev/catalog-sync/pkg/logger"
)

func newRunLog(cfg *config.Config) *runlog.Logger {
	log := runlog.New(runlog.Options{
		Console:   logger.NewHandler(os.Stdout, cfg.Logging.Level, cfg.Logging.Format),
		LogFile:   cfg.Output.LogFile,
		ErrorFile: cfg.Output.ErrorLogFile,
		Level:     logger.ParseLevel(cfg.Logging.Level),
	})
	slog.SetDefault(log.Logger)
	return log
}

// scraperFactory returns a constructor for one scrape session per run. The
// image dimension cache is shared between runs.
func scraperFactory(cfg *config.Config, log *runlog.Logger, m *metrics.Metrics) func(context.Context) (jobs.Scraper, error) {
	images := imagecheck.New(cfg.Images.MinWidth, cfg.Images.MinHeight, cfg.Images.CheckTimeout, cfg.Images.CacheSize, log.Logger)

	return func(ctx context.Context) (jobs.Scraper, error) {
		b, err := browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			Locale:         cfg.Browser.Locale,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}

		paginator := listing.NewPaginator(listing.Config{
			BaseURL:     cfg.Scraper.BaseURL,
			ListingURL:  cfg.Scraper.ListingURL,
			StartPage:   cfg.Scraper.StartPage,
			MaxPages:    cfg.Scraper.MaxPages,
			WaitTimeout: cfg.Browser.Timeout,
		}, ratelimit.NewFixed(cfg.RateLimit.PageDelay), log.Logger)

		extractor := extract.New(b, images, extract.Options{
			SettleDelay:     cfg.Scraper.SettleDelay,
			DefaultBrand:    cfg.Catalog.DefaultBrand,
			DefaultStock:    cfg.Catalog.DefaultStock,
			MarkupFactor:    cfg.Pricing.MarkupFactor,
			ZeroPricePolicy: models.ZeroPricePolicy(cfg.Pricing.ZeroPricePolicy),
		}, log.Logger)

		return scraper.New(scraper.Session{
			Browser:        b,
			Auth:           auth.New(cfg.Credentials.LoginURL, cfg.Credentials.Email, cfg.Credentials.Password, log.Logger),
			Paginator:      paginator,
			Extractor:      extractor,
			ProductLimiter: ratelimit.NewFixed(cfg.RateLimit.RequestDelay),
			Retry: retry.Policy{
				MaxAttempts: cfg.RateLimit.MaxRetries,
				Backoff:     retry.Exponential{Base: cfg.RateLimit.RetryDelay},
			},
			Log:     log,
			Metrics: m,
		}), nil
	}
}

// syncStack is everything reconciliation needs, opened from config.
type syncStack struct {
	store      database.Store
	reconciler *catalog.Reconciler
	// relay is set when the Postgres outbox carries events to Redis.
	relay     *database.Relay
	outbox    *database.OutboxRepository
	publisher *events.Publisher
	logger    *slog.Logger
}

func openSyncStack(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*syncStack, error) {
	s := &syncStack{logger: log}

	if cfg.Events.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.publisher = events.NewPublisher(client, cfg.Events.Stream, log)
	}

	opts := database.Options{
		Driver:   cfg.Database.Driver,
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	}
	if s.publisher != nil {
		opts.OutboxStream = s.publisher.Stream()
	}

	store, err := database.Open(ctx, opts, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	s.store = store

	var notifier catalog.Notifier
	if pg, ok := store.(*database.PostgresStore); ok && pg.OutboxEnabled() {
		s.outbox = pg.Outbox()
		s.relay = database.NewRelay(s.outbox, s.publisher, log, database.RelayConfig{})
	} else if s.publisher != nil {
		notifier = s.publisher
	}

	var downloader catalog.ImageDownloader
	if cfg.Images.DownloadEnabled {
		downloader = catalog.NewDownloader(cfg.Images.DownloadPath, cfg.Images.PublicPrefix, cfg.Images.MaxSizeBytes, cfg.Browser.Timeout, log)
	}

	s.reconciler = catalog.NewReconciler(store, catalog.Options{
		BatchSize:        cfg.Database.BatchSize,
		BatchPause:       cfg.Database.BatchPause,
		UpdateExisting:   cfg.Database.UpdateExisting,
		EmptyImagePolicy: cfg.Catalog.EmptyImagePolicy,
		DefaultBrand:     cfg.Catalog.DefaultBrand,
		DefaultStock:     cfg.Catalog.DefaultStock,
		Downloader:       downloader,
		Notifier:         notifier,
		Metrics:          m,
	}, log)

	return s, nil
}

// Flush delivers outbox events written by the last sync.
func (s *syncStack) Flush(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	n, err := s.relay.Drain(ctx)
	s.logger.Info("catalog events relayed", "count", n)
	return err
}

func (s *syncStack) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return errors.Join(errs...)
}
