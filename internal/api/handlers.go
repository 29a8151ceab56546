// Package api serves run control, catalog lookups and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/jobs"
)

// RunManager starts pipeline runs and reports the latest one.
type RunManager interface {
	Start(ctx context.Context, dryRun bool) (jobs.Run, error)
	Latest() (jobs.Run, bool)
}

// ProductFinder looks products up by SKU.
type ProductFinder interface {
	FindBySKU(ctx context.Context, sku string) (*catalog.Product, error)
}

// OutboxCounter reports undelivered catalog events.
type OutboxCounter interface {
	Counts(ctx context.Context) (database.OutboxCounts, error)
}

const (
	outboxPendingWarn = 1000
	outboxDeadLimit   = 100
)

type Handlers struct {
	runs     RunManager
	products ProductFinder
	outbox   OutboxCounter
	registry *prometheus.Registry
	// runCtx outlives requests; runs started over HTTP are bound to it.
	runCtx context.Context
	logger *slog.Logger
}

type Options struct {
	Runs     RunManager
	Products ProductFinder
	Outbox   OutboxCounter
	Registry *prometheus.Registry
	RunCtx   context.Context
}

func NewHandlers(opts Options, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunCtx == nil {
		opts.RunCtx = context.Background()
	}
	return &Handlers{
		runs:     opts.Runs,
		products: opts.Products,
		outbox:   opts.Outbox,
		registry: opts.Registry,
		runCtx:   opts.RunCtx,
		logger:   logger.With("component", "api"),
	}
}

// Router wires the handlers with the service middleware stack.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if h.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", h.StartRun)
		r.Get("/runs/latest", h.LatestRun)
		r.Get("/products/{sku}", h.GetProduct)
	})

	return r
}

// Health reports ok, plus outbox backlog when an outbox is configured.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		counts, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox counts", "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "error",
				"message": "outbox unavailable",
			})
			return
		}
		health["outbox"] = counts
		if counts.Pending > outboxPendingWarn {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if counts.DeadLetter > outboxDeadLimit {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

type StartRunRequest struct {
	DryRun bool `json:"dry_run"`
}

// StartRun starts a background run. An empty body means a full run.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	run, err := h.runs.Start(h.runCtx, req.DryRun)
	if errors.Is(err, jobs.ErrRunInProgress) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to start run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Latest()
	if !ok {
		h.respondError(w, http.StatusNotFound, "no run has been started")
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		h.respondError(w, http.StatusServiceUnavailable, "catalog store not configured")
		return
	}

	sku := chi.URLParam(r, "sku")
	if sku == "" {
		h.respondError(w, http.StatusBadRequest, "sku is required")
		return
	}

	p, err := h.products.FindBySKU(r.Context(), sku)
	if err != nil {
		h.logger.Error("failed to find product", "sku", sku, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if p == nil {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}

	h.respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
