/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Employees and definitions are created
	- Records end in the expected statuses
	- Approved records carry exactly one active result

These tests also exercise the service and SQLite store end to end.
*/
package api

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/kpi"
	"github.com/warp/kpi-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := kpi.NewService(store)
	svc.Logger = logger
	batch := kpi.NewBatchRunner(store, 2)
	batch.Logger = logger

	return NewHandler(store, svc, batch, logger)
}

func TestScenario_QuarterlySales(t *testing.T) {
	// GIVEN: Quarterly sales scenario
	// WHEN: Loading the scenario
	// THEN: Three approved records with results, one still in progress

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadQuarterlySalesScenario(ctx); err != nil {
		t.Fatalf("Failed to load quarterly-sales scenario: %v", err)
	}

	employees, err := handler.Store.ListEmployees(ctx)
	if err != nil {
		t.Fatalf("Failed to list employees: %v", err)
	}
	if len(employees) != 4 {
		t.Errorf("Expected 4 employees, got %d", len(employees))
	}

	dev, err := handler.Store.GetRecord(ctx, "rec-sales-emp-dev")
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if dev.Status != kpi.StatusInProgress {
		t.Errorf("Expected emp-dev in_progress, got %s", dev.Status)
	}

	results, err := handler.Store.ListResultsByPeriod(ctx, demoPeriod)
	if err != nil {
		t.Fatalf("Failed to list results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	expected := map[string]string{
		"rec-sales-emp-ana": "850000",
		"rec-sales-emp-ben": "1500000", // 1,200,000 plus the stretch bonus
		"rec-sales-emp-cho": "-500000",
	}
	for _, r := range results {
		want, ok := expected[r.KpiRecordID]
		if !ok {
			t.Errorf("Unexpected result for %s", r.KpiRecordID)
			continue
		}
		if !r.NetAmount.Equal(decimal.RequireFromString(want)) {
			t.Errorf("%s: expected net %s, got %s", r.KpiRecordID, want, r.NetAmount)
		}
	}
}

func TestScenario_ApprovalPipeline(t *testing.T) {
	// GIVEN: Approval pipeline scenario
	// WHEN: Loading the scenario
	// THEN: Every record sits in its expected status with consistent history

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadApprovalPipelineScenario(ctx); err != nil {
		t.Fatalf("Failed to load approval-pipeline scenario: %v", err)
	}

	expected := map[string]kpi.Status{
		"rec-csat-not-started": kpi.StatusNotStarted,
		"rec-csat-in-progress": kpi.StatusInProgress,
		"rec-csat-submitted":   kpi.StatusSubmitted,
		"rec-csat-awaiting":    kpi.StatusAwaitingApproval,
		"rec-csat-approved":    kpi.StatusApproved,
		"rec-csat-rejected":    kpi.StatusInProgress, // reopened
	}
	for id, want := range expected {
		rec, err := handler.Store.GetRecord(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get %s: %v", id, err)
		}
		if rec.Status != want {
			t.Errorf("%s: expected %s, got %s", id, want, rec.Status)
		}
		if !rec.HistoryConsistent() {
			t.Errorf("%s: history does not end in current status", id)
		}
	}

	reopened, _ := handler.Store.GetRecord(ctx, "rec-csat-rejected")
	if !reopened.ActualValue.Equal(decimal.NewFromInt(65)) {
		t.Errorf("Expected corrected actual 65, got %s", reopened.ActualValue)
	}
}

func TestScenario_DuplicateResults(t *testing.T) {
	// GIVEN: Duplicate results scenario
	// WHEN: Loading the scenario and running deduplication
	// THEN: The duplicated record is back to one active result

	handler := setupTestHandler(t)
	ctx := context.Background()

	if err := handler.loadDuplicateResultsScenario(ctx); err != nil {
		t.Fatalf("Failed to load duplicate-results scenario: %v", err)
	}

	active, err := handler.Store.ListActiveResults(ctx)
	if err != nil {
		t.Fatalf("Failed to list results: %v", err)
	}
	if len(active) != 4 {
		t.Fatalf("Expected 4 active results before dedup, got %d", len(active))
	}

	report, err := handler.Batch.Deduplicate(ctx)
	if err != nil {
		t.Fatalf("Deduplicate failed: %v", err)
	}
	if report.Duplicated != 1 || len(report.SoftDeleted) != 1 {
		t.Errorf("Expected one duplicated record and one soft delete, got %+v", report)
	}

	active, _ = handler.Store.ListActiveResults(ctx)
	if len(active) != 3 {
		t.Errorf("Expected 3 active results after dedup, got %d", len(active))
	}
}

func TestScenario_ScheduledDedup(t *testing.T) {
	handler := setupTestHandler(t)
	ctx := context.Background()
	if err := handler.loadDuplicateResultsScenario(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	scheduler := NewDedupScheduler(handler.Batch, handler.Logger, 0)
	if scheduler.Enabled {
		t.Error("Expected zero interval to disable the scheduler")
	}
	scheduler.Start()
	scheduler.Stop()

	report := scheduler.RunNow(ctx)
	if len(report.SoftDeleted) != 1 {
		t.Errorf("Expected one soft delete, got %d", len(report.SoftDeleted))
	}
}
