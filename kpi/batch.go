/*
batch.go - Bulk calculation and result deduplication

PURPOSE:
  Drives the calculator over many records with a bounded worker pool.

BATCH SEMANTICS:
  - Only approved records are eligible; others are counted as skipped
  - A record with a missing definition or employee becomes a Failure and
    the run continues
  - Each result supersedes the record's active results (soft delete + insert)
  - Cancellation is checked between records; a cancelled run returns the
    work already finished with Cancelled set

DEDUPLICATION:
  Deduplicate is a compensating maintenance pass, not part of the write
  path. Concurrent writers can each find no active result and both insert;
  the pass keeps the most recently calculated result per record and
  soft-deletes the rest. Several active results for one record is an
  expected condition here, not an error.

  ┌───────────────┐   group by    ┌──────────────────┐  keep newest  ┌──────────────┐
  │ active results│ ────────────▶ │ per-record groups│ ────────────▶ │ soft-delete  │
  └───────────────┘  record id    └──────────────────┘               │ the others   │
                                                                     └──────────────┘
*/
package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the worker pool when none is configured.
const DefaultConcurrency = 4

// =============================================================================
// BATCH TYPES
// =============================================================================

type Failure struct {
	RecordID string
	Reason   string
	Err      error
}

type BatchOutcome struct {
	Results   []Result
	Failures  []Failure
	Skipped   int
	Cancelled bool
}

type BatchStats struct {
	Count              int
	TotalReward        decimal.Decimal
	TotalPenalty       decimal.Decimal
	TotalNet           decimal.Decimal
	AverageAchievement decimal.Decimal
	Grades             map[Grade]int
}

type BulkOutcome struct {
	BatchOutcome
	Period string
	Stats  BatchStats
}

// BulkFilter narrows a bulk run. Empty fields match everything.
type BulkFilter struct {
	EmployeeIDs []string
	KpiIDs      []string
	Department  string
}

// =============================================================================
// BATCH RUNNER
// =============================================================================

type BatchRunner struct {
	Records     RecordStore
	Definitions DefinitionStore
	Employees   EmployeeDirectory
	Results     ResultStore
	Calculator  *Calculator
	Logger      *slog.Logger

	// Concurrency is the worker pool size. Values below 1 are treated as 1.
	Concurrency int
}

func NewBatchRunner(stores Stores, concurrency int) *BatchRunner {
	return &BatchRunner{
		Records:     stores,
		Definitions: stores,
		Employees:   stores,
		Results:     stores,
		Calculator:  NewCalculator(),
		Logger:      slog.Default(),
		Concurrency: concurrency,
	}
}

func (b *BatchRunner) limit() int {
	if b.Concurrency < 1 {
		return 1
	}
	return b.Concurrency
}

func (b *BatchRunner) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

type slot struct {
	done    bool
	result  Result
	failure *Failure
}

// RunBatch calculates every approved record. definitions is keyed by KPI id
// and employees by employee id. Output order follows input order.
func (b *BatchRunner) RunBatch(ctx context.Context, records []Record, definitions map[string]Definition, employees map[string]Employee) BatchOutcome {
	var out BatchOutcome
	slots := make([]slot, len(records))

	g := new(errgroup.Group)
	g.SetLimit(b.limit())

	var cancelledMu sync.Mutex
	markCancelled := func() {
		cancelledMu.Lock()
		out.Cancelled = true
		cancelledMu.Unlock()
	}

	for i, rec := range records {
		if ctx.Err() != nil {
			markCancelled()
			break
		}
		if rec.Status != StatusApproved {
			out.Skipped++
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				markCancelled()
				return nil
			}
			res, err := b.processOne(ctx, rec, definitions, employees)
			if err != nil {
				slots[i] = slot{done: true, failure: &Failure{RecordID: rec.ID, Reason: err.Error(), Err: err}}
				b.logger().WarnContext(ctx, "batch record failed", "record_id", rec.ID, "error", err)
				return nil
			}
			slots[i] = slot{done: true, result: res}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range slots {
		switch {
		case !s.done:
		case s.failure != nil:
			out.Failures = append(out.Failures, *s.failure)
		default:
			out.Results = append(out.Results, s.result)
		}
	}
	return out
}

func (b *BatchRunner) processOne(ctx context.Context, rec Record, definitions map[string]Definition, employees map[string]Employee) (Result, error) {
	def, ok := definitions[rec.KpiID]
	if !ok {
		return Result{}, &ConfigurationError{RecordID: rec.ID, Missing: ErrDefinitionNotFound, Ref: rec.KpiID}
	}
	emp, ok := employees[rec.EmployeeID]
	if !ok {
		return Result{}, &ConfigurationError{RecordID: rec.ID, Missing: ErrEmployeeNotFound, Ref: rec.EmployeeID}
	}
	res := b.Calculator.Calculate(rec, def, emp)
	return supersede(ctx, b.Results, res)
}

// RunBulkCalculation loads a period's records, resolves their definitions and
// employees, and runs the batch. Only the initial record load can fail the
// whole call.
func (b *BatchRunner) RunBulkCalculation(ctx context.Context, period string, filter BulkFilter) (BulkOutcome, error) {
	records, err := b.Records.ListRecordsByPeriod(ctx, period)
	if err != nil {
		return BulkOutcome{}, fmt.Errorf("failed to load records for %s: %w", period, err)
	}

	records = filterRecords(records, filter)
	definitions, employees, lookupFailures := b.resolve(ctx, records)

	var eligible []Record
	var lookupErrs []Failure
	for _, rec := range records {
		if filter.Department != "" {
			emp, ok := employees[rec.EmployeeID]
			if !ok || emp.Department != filter.Department {
				continue
			}
		}
		if f, failed := lookupFailures[rec.ID]; failed && rec.Status == StatusApproved {
			lookupErrs = append(lookupErrs, f)
			continue
		}
		eligible = append(eligible, rec)
	}

	outcome := b.RunBatch(ctx, eligible, definitions, employees)
	outcome.Failures = append(outcome.Failures, lookupErrs...)

	b.logger().InfoContext(ctx, "bulk calculation finished",
		"period", period,
		"results", len(outcome.Results),
		"failures", len(outcome.Failures),
		"skipped", outcome.Skipped,
		"cancelled", outcome.Cancelled)

	return BulkOutcome{
		BatchOutcome: outcome,
		Period:       period,
		Stats:        ComputeStats(outcome.Results),
	}, nil
}

// resolve fetches each distinct definition and employee once. Not-found
// lookups are left out of the maps so RunBatch reports them as
// configuration errors; other errors become per-record failures.
func (b *BatchRunner) resolve(ctx context.Context, records []Record) (map[string]Definition, map[string]Employee, map[string]Failure) {
	definitions := make(map[string]Definition)
	employees := make(map[string]Employee)
	defErrs := make(map[string]error)
	empErrs := make(map[string]error)

	for _, rec := range records {
		if _, seen := definitions[rec.KpiID]; !seen {
			if _, failed := defErrs[rec.KpiID]; !failed {
				def, err := b.Definitions.GetDefinition(ctx, rec.KpiID)
				switch {
				case err == nil:
					definitions[rec.KpiID] = def
				case !errors.Is(err, ErrDefinitionNotFound):
					defErrs[rec.KpiID] = err
				default:
					defErrs[rec.KpiID] = nil
				}
			}
		}
		if _, seen := employees[rec.EmployeeID]; !seen {
			if _, failed := empErrs[rec.EmployeeID]; !failed {
				emp, err := b.Employees.GetEmployee(ctx, rec.EmployeeID)
				switch {
				case err == nil:
					employees[rec.EmployeeID] = emp
				case !errors.Is(err, ErrEmployeeNotFound):
					empErrs[rec.EmployeeID] = err
				default:
					empErrs[rec.EmployeeID] = nil
				}
			}
		}
	}

	failures := make(map[string]Failure)
	for _, rec := range records {
		err := defErrs[rec.KpiID]
		if err == nil {
			err = empErrs[rec.EmployeeID]
		}
		if err != nil {
			failures[rec.ID] = Failure{RecordID: rec.ID, Reason: err.Error(), Err: err}
		}
	}
	return definitions, employees, failures
}

func filterRecords(records []Record, f BulkFilter) []Record {
	if len(f.EmployeeIDs) == 0 && len(f.KpiIDs) == 0 {
		return records
	}
	emps := toSet(f.EmployeeIDs)
	kpis := toSet(f.KpiIDs)
	var out []Record
	for _, rec := range records {
		if len(emps) > 0 && !emps[rec.EmployeeID] {
			continue
		}
		if len(kpis) > 0 && !kpis[rec.KpiID] {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// =============================================================================
// STATISTICS
// =============================================================================

// ComputeStats aggregates results. Grades always holds every grade key.
func ComputeStats(results []Result) BatchStats {
	stats := BatchStats{
		TotalReward:        decimal.Zero,
		TotalPenalty:       decimal.Zero,
		TotalNet:           decimal.Zero,
		AverageAchievement: decimal.Zero,
		Grades:             make(map[Grade]int, len(Grades)),
	}
	for _, g := range Grades {
		stats.Grades[g] = 0
	}

	rateSum := decimal.Zero
	for _, r := range results {
		stats.Count++
		stats.TotalReward = stats.TotalReward.Add(r.RewardAmount)
		stats.TotalPenalty = stats.TotalPenalty.Add(r.PenaltyAmount)
		stats.TotalNet = stats.TotalNet.Add(r.NetAmount)
		rateSum = rateSum.Add(r.AchievementRate)
		stats.Grades[GradeFor(r.AchievementRate)]++
	}
	if stats.Count > 0 {
		stats.AverageAchievement = rateSum.Div(decimal.NewFromInt(int64(stats.Count))).Round(AmountPlaces)
	}
	return stats
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

type DedupReport struct {
	Scanned     int
	Duplicated  int // records that had more than one active result
	SoftDeleted []string
}

// Deduplicate keeps the most recently calculated active result per record
// and soft-deletes the rest. Ties on CalculatedAt keep the greater id.
// Soft-delete failures are collected and the pass continues.
func (b *BatchRunner) Deduplicate(ctx context.Context) (DedupReport, error) {
	active, err := b.Results.ListActiveResults(ctx)
	if err != nil {
		return DedupReport{}, fmt.Errorf("failed to list active results: %w", err)
	}

	groups := make(map[string][]Result)
	var order []string
	for _, r := range active {
		if _, ok := groups[r.KpiRecordID]; !ok {
			order = append(order, r.KpiRecordID)
		}
		groups[r.KpiRecordID] = append(groups[r.KpiRecordID], r)
	}

	report := DedupReport{Scanned: len(active)}
	var errs []error
	for _, recordID := range order {
		group := groups[recordID]
		if len(group) < 2 {
			continue
		}
		report.Duplicated++
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].CalculatedAt.Equal(group[j].CalculatedAt) {
				return group[i].CalculatedAt.After(group[j].CalculatedAt)
			}
			return group[i].ID > group[j].ID
		})
		for _, stale := range group[1:] {
			if err := b.Results.SoftDeleteResult(ctx, stale.ID); err != nil {
				errs = append(errs, fmt.Errorf("soft delete %s: %w", stale.ID, err))
				continue
			}
			report.SoftDeleted = append(report.SoftDeleted, stale.ID)
		}
	}

	if report.Duplicated > 0 {
		b.logger().InfoContext(ctx, "deduplicated calculation results",
			"records", report.Duplicated, "soft_deleted", len(report.SoftDeleted))
	}
	return report, errors.Join(errs...)
}
