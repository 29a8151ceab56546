package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-sync/internal/catalog"
	"github.com/maltedev/catalog-sync/internal/catalog/catalogtest"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/jobs"
	"github.com/maltedev/catalog-sync/internal/metrics"
)

type fakeRuns struct {
	startErr error
	started  []bool
	latest   *jobs.Run
}

func (f *fakeRuns) Start(_ context.Context, dryRun bool) (jobs.Run, error) {
	if f.startErr != nil {
		return jobs.Run{}, f.startErr
	}
	f.started = append(f.started, dryRun)
	run := jobs.Run{ID: "run-1", Status: jobs.StatusRunning, DryRun: dryRun}
	f.latest = &run
	return run, nil
}

func (f *fakeRuns) Latest() (jobs.Run, bool) {
	if f.latest == nil {
		return jobs.Run{}, false
	}
	return *f.latest, true
}

type fakeOutbox struct {
	counts database.OutboxCounts
	err    error
}

func (f fakeOutbox) Counts(context.Context) (database.OutboxCounts, error) {
	return f.counts, f.err
}

func serve(t *testing.T, h *Handlers, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestStartRun(t *testing.T) {
	tests := []struct {
		name       string
		runs       *fakeRuns
		body       string
		wantStatus int
		wantDryRun []bool
	}{
		{"empty body starts a full run", &fakeRuns{}, "", http.StatusAccepted, []bool{false}},
		{"dry run", &fakeRuns{}, `{"dry_run":true}`, http.StatusAccepted, []bool{true}},
		{"bad body", &fakeRuns{}, `{`, http.StatusBadRequest, nil},
		{"run in progress", &fakeRuns{startErr: jobs.ErrRunInProgress}, "", http.StatusConflict, nil},
		{"manager failure", &fakeRuns{startErr: errors.New("boom")}, "", http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(Options{Runs: tt.runs}, nil)
			rec := serve(t, h, http.MethodPost, "/api/v1/runs", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDryRun, tt.runs.started)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestLatestRun(t *testing.T) {
	runs := &fakeRuns{}
	h := NewHandlers(Options{Runs: runs}, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/runs/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runs.latest = &jobs.Run{ID: "run-9", Status: jobs.StatusCompleted, Products: 4, Sync: &catalog.Result{Created: 4}}
	rec = serve(t, h, http.MethodGet, "/api/v1/runs/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-9", got.ID)
	assert.Equal(t, 4, got.Sync.Created)
}

func TestGetProduct(t *testing.T) {
	store := catalogtest.NewStore()
	store.Put(catalog.Product{ID: "p-1", Fields: catalog.Fields{Name: "Oak Desk", SKU: "DSK-01", Price: 1299, Images: []string{}}})

	h := NewHandlers(Options{Runs: &fakeRuns{}, Products: store}, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/products/DSK-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got catalog.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "p-1", got.ID)
	assert.Equal(t, 1299, got.Price)

	rec = serve(t, h, http.MethodGet, "/api/v1/products/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.Fail = func(op, sku string) error { return errors.New("db down") }
	rec = serve(t, h, http.MethodGet, "/api/v1/products/DSK-01", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetProductWithoutStore(t *testing.T) {
	h := NewHandlers(Options{Runs: &fakeRuns{}}, nil)
	rec := serve(t, h, http.MethodGet, "/api/v1/products/X", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxCounter
		wantStatus int
		wantState  string
	}{
		{"no outbox", nil, http.StatusOK, "ok"},
		{"healthy outbox", fakeOutbox{counts: database.OutboxCounts{Pending: 3}}, http.StatusOK, "ok"},
		{"backlog", fakeOutbox{counts: database.OutboxCounts{Pending: 5000}}, http.StatusOK, "warning"},
		{"dead letters", fakeOutbox{counts: database.OutboxCounts{DeadLetter: 101}}, http.StatusServiceUnavailable, "error"},
		{"outbox query fails", fakeOutbox{err: errors.New("timeout")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(Options{Runs: &fakeRuns{}, Outbox: tt.outbox}, nil)
			rec := serve(t, h, http.MethodGet, "/health", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantState, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.IncPages()

	h := NewHandlers(Options{Runs: &fakeRuns{}, Registry: m.Registry}, nil)
	rec := serve(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog_listing_pages_total 1")
}
