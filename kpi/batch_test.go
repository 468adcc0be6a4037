package kpi_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/kpi-engine/kpi"
	"github.com/warp/kpi-engine/kpi/store"
)

func approvedFor(id, kpiID, empID string, actual int64) kpi.Record {
	rec := kpi.NewRecord(id, kpiID, empID, "2024-Q3", decimal.NewFromInt(100), "hr", fixedNow)
	rec.ActualValue = decimal.NewFromInt(actual)
	rec.Status = kpi.StatusApproved
	rec.History = append(rec.History, kpi.HistoryEntry{Status: kpi.StatusApproved, ChangedAt: fixedNow})
	return rec
}

func seededRunner(t *testing.T, concurrency int, records ...kpi.Record) (*kpi.BatchRunner, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveDefinition(ctx, salesDefinition()))
	require.NoError(t, mem.SaveEmployee(ctx, kpi.Employee{ID: "emp-1", Department: "Sales"}))
	require.NoError(t, mem.SaveEmployee(ctx, kpi.Employee{ID: "emp-2", Department: "Ops"}))
	for _, rec := range records {
		require.NoError(t, mem.SaveRecord(ctx, rec))
	}

	runner := kpi.NewBatchRunner(mem, concurrency)
	runner.Calculator = fixedCalculator()
	return runner, mem
}

func TestRunBatch_ContinuesPastFailures(t *testing.T) {
	// GIVEN: three records, one pointing at an unknown definition, one not approved
	runner, mem := seededRunner(t, 2)
	pending := kpi.NewRecord("rec-c", "kpi-sales", "emp-1", "2024-Q3", decimal.NewFromInt(100), "hr", fixedNow)
	records := []kpi.Record{
		approvedFor("rec-a", "kpi-sales", "emp-1", 85),
		approvedFor("rec-b", "kpi-unknown", "emp-1", 85),
		pending,
		approvedFor("rec-d", "kpi-sales", "emp-2", 40),
	}
	defs := map[string]kpi.Definition{"kpi-sales": salesDefinition()}
	emps := map[string]kpi.Employee{"emp-1": {ID: "emp-1"}, "emp-2": {ID: "emp-2"}}

	// WHEN: the batch runs
	out := runner.RunBatch(context.Background(), records, defs, emps)

	// THEN: the good records are calculated in input order
	require.Len(t, out.Results, 2)
	assert.Equal(t, "rec-a", out.Results[0].KpiRecordID)
	assert.Equal(t, "rec-d", out.Results[1].KpiRecordID)
	assert.Equal(t, 1, out.Skipped)
	assert.False(t, out.Cancelled)

	// AND: the bad one is a configuration failure
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "rec-b", out.Failures[0].RecordID)
	var cfgErr *kpi.ConfigurationError
	require.ErrorAs(t, out.Failures[0].Err, &cfgErr)
	assert.ErrorIs(t, out.Failures[0].Err, kpi.ErrDefinitionNotFound)

	active, err := mem.ListActiveResults(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRunBatch_CancelledContext(t *testing.T) {
	runner, mem := seededRunner(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := runner.RunBatch(ctx,
		[]kpi.Record{approvedFor("rec-a", "kpi-sales", "emp-1", 85)},
		map[string]kpi.Definition{"kpi-sales": salesDefinition()},
		map[string]kpi.Employee{"emp-1": {ID: "emp-1"}})

	assert.True(t, out.Cancelled)
	assert.Empty(t, out.Results)
	assert.Empty(t, mem.AllResults())
}

// cancellingResults cancels the batch context once the n-th insert has
// been stored.
type cancellingResults struct {
	kpi.ResultStore
	after   int
	cancel  context.CancelFunc
	inserts int
}

func (c *cancellingResults) InsertResult(ctx context.Context, r kpi.Result) (string, error) {
	id, err := c.ResultStore.InsertResult(ctx, r)
	c.inserts++
	if c.inserts == c.after {
		c.cancel()
	}
	return id, err
}

func TestRunBatch_CancelledMidRun(t *testing.T) {
	// GIVEN: five approved records and a run cancelled right after the 2nd result is stored
	runner, mem := seededRunner(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Results = &cancellingResults{ResultStore: mem, after: 2, cancel: cancel}

	var records []kpi.Record
	for _, id := range []string{"rec-1", "rec-2", "rec-3", "rec-4", "rec-5"} {
		records = append(records, approvedFor(id, "kpi-sales", "emp-1", 85))
	}

	// WHEN: the batch runs
	out := runner.RunBatch(ctx, records,
		map[string]kpi.Definition{"kpi-sales": salesDefinition()},
		map[string]kpi.Employee{"emp-1": {ID: "emp-1"}})

	// THEN: finished work is kept and flagged as cancelled
	assert.True(t, out.Cancelled)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "rec-1", out.Results[0].KpiRecordID)
	assert.Equal(t, "rec-2", out.Results[1].KpiRecordID)
	assert.Empty(t, out.Failures)

	// AND: records not started are in neither results nor failures, and were not stored
	stored := mem.AllResults()
	require.Len(t, stored, 2)
	for _, r := range stored {
		assert.Contains(t, []string{"rec-1", "rec-2"}, r.KpiRecordID)
	}
}

func TestRunBatch_ConcurrencyBelowOne(t *testing.T) {
	for _, n := range []int{0, -3} {
		runner, _ := seededRunner(t, n)
		out := runner.RunBatch(context.Background(),
			[]kpi.Record{approvedFor("rec-a", "kpi-sales", "emp-1", 85)},
			map[string]kpi.Definition{"kpi-sales": salesDefinition()},
			map[string]kpi.Employee{"emp-1": {ID: "emp-1"}})
		assert.Len(t, out.Results, 1, "concurrency %d", n)
	}
}

func TestRunBatch_Supersedes(t *testing.T) {
	runner, mem := seededRunner(t, 4)
	records := []kpi.Record{approvedFor("rec-a", "kpi-sales", "emp-1", 85)}
	defs := map[string]kpi.Definition{"kpi-sales": salesDefinition()}
	emps := map[string]kpi.Employee{"emp-1": {ID: "emp-1"}}

	runner.RunBatch(context.Background(), records, defs, emps)
	runner.RunBatch(context.Background(), records, defs, emps)

	active, err := mem.ListActiveResults(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, mem.AllResults(), 2)
}

func TestRunBulkCalculation(t *testing.T) {
	// GIVEN: a period with a Sales record, an Ops record, an orphan and a draft
	orphan := approvedFor("rec-x", "kpi-sales", "emp-gone", 90)
	draft := kpi.NewRecord("rec-z", "kpi-sales", "emp-1", "2024-Q3", decimal.NewFromInt(100), "hr", fixedNow)
	other := approvedFor("rec-q4", "kpi-sales", "emp-1", 90)
	other.Period = "2024-Q4"
	runner, _ := seededRunner(t, 3,
		approvedFor("rec-a", "kpi-sales", "emp-1", 85),
		approvedFor("rec-b", "kpi-sales", "emp-2", 40),
		orphan, draft, other)
	ctx := context.Background()

	// WHEN: the whole period runs
	out, err := runner.RunBulkCalculation(ctx, "2024-Q3", kpi.BulkFilter{})
	require.NoError(t, err)

	// THEN: two results, one failure, one skipped, other periods untouched
	assert.Equal(t, "2024-Q3", out.Period)
	assert.Len(t, out.Results, 2)
	assert.Equal(t, 1, out.Skipped)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "rec-x", out.Failures[0].RecordID)
	assert.ErrorIs(t, out.Failures[0].Err, kpi.ErrEmployeeNotFound)

	// AND: stats aggregate the two results
	assert.Equal(t, 2, out.Stats.Count)
	assertDecimal(t, "850000", out.Stats.TotalReward)
	assertDecimal(t, "500000", out.Stats.TotalPenalty)
	assertDecimal(t, "350000", out.Stats.TotalNet)
	assertDecimal(t, "62.5", out.Stats.AverageAchievement)

	// WHEN: filtered by department
	out, err = runner.RunBulkCalculation(ctx, "2024-Q3", kpi.BulkFilter{Department: "Ops"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "rec-b", out.Results[0].KpiRecordID)
	assert.Empty(t, out.Failures)

	// WHEN: filtered by employee
	out, err = runner.RunBulkCalculation(ctx, "2024-Q3", kpi.BulkFilter{EmployeeIDs: []string{"emp-1"}})
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Skipped)
}

func TestComputeStats(t *testing.T) {
	empty := kpi.ComputeStats(nil)
	assert.Equal(t, 0, empty.Count)
	assertDecimal(t, "0", empty.AverageAchievement)
	assert.Len(t, empty.Grades, len(kpi.Grades))

	stats := kpi.ComputeStats([]kpi.Result{
		{AchievementRate: decimal.NewFromInt(120), RewardAmount: decimal.NewFromInt(10), NetAmount: decimal.NewFromInt(10)},
		{AchievementRate: decimal.NewFromInt(85), RewardAmount: decimal.NewFromInt(5), NetAmount: decimal.NewFromInt(5)},
		{AchievementRate: decimal.NewFromInt(10), PenaltyAmount: decimal.NewFromInt(3), NetAmount: decimal.NewFromInt(-3)},
	})
	assert.Equal(t, 3, stats.Count)
	assertDecimal(t, "12", stats.TotalNet)
	assertDecimal(t, "71.67", stats.AverageAchievement)
	assert.Equal(t, 1, stats.Grades[kpi.GradeExcellent])
	assert.Equal(t, 1, stats.Grades[kpi.GradeGood])
	assert.Equal(t, 0, stats.Grades[kpi.GradeAcceptable])
	assert.Equal(t, 1, stats.Grades[kpi.GradePoor])
}

func TestDeduplicate_KeepsLatest(t *testing.T) {
	// GIVEN: three active results for one record and one for another
	runner, mem := seededRunner(t, 1)
	ctx := context.Background()
	insert := func(id, recordID string, at time.Time) {
		_, err := mem.InsertResult(ctx, kpi.Result{ID: id, KpiRecordID: recordID, CalculatedAt: at, Status: kpi.ResultCalculated})
		require.NoError(t, err)
	}
	insert("res-1", "rec-a", fixedNow)
	insert("res-2", "rec-a", fixedNow.Add(2*time.Hour))
	insert("res-3", "rec-a", fixedNow.Add(time.Hour))
	insert("res-4", "rec-b", fixedNow)

	// WHEN: the pass runs
	report, err := runner.Deduplicate(ctx)
	require.NoError(t, err)

	// THEN: only the newest rec-a result stays active
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Duplicated)
	assert.ElementsMatch(t, []string{"res-1", "res-3"}, report.SoftDeleted)

	active, err := mem.ListActiveResults(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(active))
	for _, r := range active {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"res-2", "res-4"}, ids)

	// AND: a second pass finds nothing to do
	report, err = runner.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Duplicated)
	assert.Empty(t, report.SoftDeleted)
}

func TestDeduplicate_TieKeepsGreaterID(t *testing.T) {
	runner, mem := seededRunner(t, 1)
	ctx := context.Background()
	for _, id := range []string{"res-b", "res-a"} {
		_, err := mem.InsertResult(ctx, kpi.Result{ID: id, KpiRecordID: "rec-a", CalculatedAt: fixedNow})
		require.NoError(t, err)
	}

	report, err := runner.Deduplicate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"res-a"}, report.SoftDeleted)
}
