package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for scrape and sync runs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry            *prometheus.Registry
	PagesTotal          prometheus.Counter
	ProductsTotal       prometheus.Counter
	RetriesTotal        prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	ExtractionDuration  prometheus.Histogram
	ReconcileTotal      *prometheus.CounterVec
	ImageDownloadsTotal *prometheus.CounterVec
	RunsTotal           *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_listing_pages_total",
		Help: "Listing pages fetched.",
	})
	products := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_products_scraped_total",
		Help: "Products extracted successfully.",
	})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_extraction_retries_total",
		Help: "Product extraction retries scheduled.",
	})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_scrape_errors_total",
		Help: "Products given up on, by error type.",
	}, []string{"error_type"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_extraction_duration_seconds",
		Help:    "Time spent extracting one product, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_reconcile_records_total",
		Help: "Reconciled records by outcome.",
	}, []string{"outcome"})
	downloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_image_downloads_total",
		Help: "Image downloads by result.",
	}, []string{"result"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_runs_total",
		Help: "Pipeline runs by final status.",
	}, []string{"status"})

	registry.MustRegister(pages, products, retries, errorsTotal, duration, reconcile, downloads, runs)

	return &Metrics{
		Registry:            registry,
		PagesTotal:          pages,
		ProductsTotal:       products,
		RetriesTotal:        retries,
		ErrorsTotal:         errorsTotal,
		ExtractionDuration:  duration,
		ReconcileTotal:      reconcile,
		ImageDownloadsTotal: downloads,
		RunsTotal:           runs,
	}
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

func (m *Metrics) IncProducts() {
	if m == nil {
		return
	}
	m.ProductsTotal.Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveExtraction(d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionDuration.Observe(d.Seconds())
}

// IncReconcile counts one record as created, updated, skipped or error.
func (m *Metrics) IncReconcile(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncImageDownload(result string) {
	if m == nil {
		return
	}
	m.ImageDownloadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}
