package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/config"
	"github.com/maltedev/catalog-sync/internal/events"
	"github.com/maltedev/catalog-sync/internal/jobs"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/snapshot"
)

func newRootCmd() *cobra.Command {
	var dryRun bool

	root := &cobra.Command{
		Use:   "catalog-sync",
		Short: "Scrapes the supplier storefront and syncs products into the catalog.",
		Long: "Logs into the supplier storefront, walks the product listing, extracts every product,\n" +
			"writes a JSON snapshot and reconciles it with the catalog store.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), dryRun)
		},
	}
	root.Flags().BoolVar(&dryRun, "dry-run", false, "scrape and write the snapshot without touching the catalog store")

	root.AddCommand(newSyncCmd(), newServeCmd(), newEventsCmd())
	return root
}

func runPipeline(ctx context.Context, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	syncing := !dryRun && cfg.Database.SyncEnabled
	if err := cfg.Validate(syncing); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log := newRunLog(cfg)
	defer log.Close()

	m := metrics.New()
	pipeline := &jobs.Pipeline{
		NewScraper:   scraperFactory(cfg, log, m),
		SnapshotFile: cfg.Output.SnapshotFile,
		Metrics:      m,
		Logger:       log.Logger,
	}

	if syncing {
		stack, err := openSyncStack(ctx, cfg, log.Logger, m)
		if err != nil {
			log.Fail("catalog store unavailable", err)
			return err
		}
		defer stack.Close()
		pipeline.Reconciler = stack.reconciler
		pipeline.AfterSync = stack.Flush
	}

	report, err := pipeline.Run(ctx, dryRun)
	printSummary(report)
	if err != nil {
		log.Fail("run aborted", err)
		return err
	}
	return nil
}

func newSyncCmd() *cobra.Command {
	var snapshotFile string

	cmd := &cobra.Command{
		Use:           "sync [--snapshot <path/to/products.json>]",
		Short:         "Reconciles an existing snapshot with the catalog store.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if snapshotFile == "" {
				snapshotFile = cfg.Output.SnapshotFile
			}

			log := newRunLog(cfg)
			defer log.Close()

			records, err := snapshot.Read(snapshotFile)
			if err != nil {
				log.Fail("failed to read snapshot", err, "file", snapshotFile)
				return err
			}

			stack, err := openSyncStack(cmd.Context(), cfg, log.Logger, metrics.New())
			if err != nil {
				log.Fail("catalog store unavailable", err)
				return err
			}
			defer stack.Close()

			started := time.Now()
			result := stack.reconciler.Sync(cmd.Context(), records)
			if err := stack.Flush(cmd.Context()); err != nil {
				log.Warn("failed to relay catalog events", "error", err)
			}

			printSummary(jobs.Report{Snapshot: snapshotFile, Sync: &result, Duration: time.Since(started)})
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotFile, "snapshot", "", "snapshot to reconcile (defaults to OUTPUT_SNAPSHOT_FILE)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Runs the HTTP service that starts runs and serves catalog lookups and metrics.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(cfg.Database.SyncEnabled); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log := newRunLog(cfg)
	defer log.Close()

	m := metrics.New()
	pipeline := &jobs.Pipeline{
		NewScraper:   scraperFactory(cfg, log, m),
		SnapshotFile: cfg.Output.SnapshotFile,
		Metrics:      m,
		Logger:       log.Logger,
	}

	opts := api.Options{Registry: m.Registry, RunCtx: ctx}

	if cfg.Database.SyncEnabled {
		stack, err := openSyncStack(ctx, cfg, log.Logger, m)
		if err != nil {
			log.Fail("catalog store unavailable", err)
			return err
		}
		defer stack.Close()

		pipeline.Reconciler = stack.reconciler
		opts.Products = stack.store
		if stack.relay != nil {
			opts.Outbox = stack.outbox
			go func() {
				if err := stack.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	manager := jobs.NewManager(pipeline, log.Logger)
	opts.Runs = manager

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewHandlers(opts, log.Logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fail("server failed", err)
		return err
	}

	manager.Wait()
	log.Info("server stopped")
	return nil
}

func newEventsCmd() *cobra.Command {
	var group, name string

	cmd := &cobra.Command{
		Use:           "events",
		Short:         "Tails catalog product events from the Redis stream.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Events.RedisAddr == "" {
				return errors.New("invalid configuration:\nREDIS_ADDR is required to consume events")
			}

			log := newRunLog(cfg)
			defer log.Close()

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Events.RedisAddr,
				Password: cfg.Events.RedisPassword,
				DB:       cfg.Events.RedisDB,
			})
			defer client.Close()

			if err := client.Ping(cmd.Context()).Err(); err != nil {
				log.Fail("failed to connect to redis", err)
				return err
			}

			consumer := events.NewConsumer(client, events.ConsumerConfig{
				Stream: cfg.Events.Stream,
				Group:  group,
				Name:   name,
			}, log.Logger)

			err = consumer.Run(cmd.Context(), func(_ context.Context, e events.ProductEvent) error {
				log.Info("catalog event",
					"event_id", e.EventID,
					"event_type", e.EventType,
					"product_id", e.ProductID,
					"sku", e.SKU,
					"name", e.Name,
					"price", e.Price,
				)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&group, "group", "catalog-sync", "consumer group name")
	cmd.Flags().StringVar(&name, "consumer", "consumer-1", "consumer name within the group")
	return cmd
}
