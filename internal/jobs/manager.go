package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/catalog-sync/internal/catalog"
)

var ErrRunInProgress = errors.New("a run is already in progress")

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Runner executes one pipeline run. *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, dryRun bool) (Report, error)
}

// Run is the status of a run started through the manager.
type Run struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	DryRun      bool            `json:"dry_run"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Pages       int             `json:"pages"`
	Products    int             `json:"products"`
	Failed      int             `json:"failed"`
	Snapshot    string          `json:"snapshot,omitempty"`
	Sync        *catalog.Result `json:"sync,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Manager runs the pipeline in the background, one run at a time, and
// remembers the latest run.
type Manager struct {
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	latest  *Run
	running bool
	wg      sync.WaitGroup
}

func NewManager(runner Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// Start launches a run bound to ctx and returns its initial status.
// ctx should outlive the request that triggered the run.
func (m *Manager) Start(ctx context.Context, dryRun bool) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return Run{}, ErrRunInProgress
	}

	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	m.latest = run
	m.running = true

	m.wg.Add(1)
	go m.execute(ctx, run)

	m.logger.Info("run started", "id", run.ID, "dry_run", dryRun)
	return *run, nil
}

func (m *Manager) execute(ctx context.Context, run *Run) {
	defer m.wg.Done()

	report, err := m.runner.Run(ctx, run.DryRun)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Pages = report.Scrape.Pages
	run.Products = len(report.Scrape.Products)
	run.Failed = report.Scrape.Failed
	run.Snapshot = report.Snapshot
	run.Sync = report.Sync
	run.Status = StatusCompleted
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		m.logger.Error("run failed", "id", run.ID, "error", err)
	} else {
		m.logger.Info("run completed", "id", run.ID, "products", run.Products, "duration", report.Duration.Round(time.Millisecond))
	}
	m.running = false
}

// Latest returns a copy of the most recent run.
func (m *Manager) Latest() (Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Run{}, false
	}
	return *m.latest, true
}

// Wait blocks until the current run, if any, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
