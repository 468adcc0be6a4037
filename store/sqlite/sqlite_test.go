/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Record and history round trip, append-only history
- Legacy status migration on read
- Result insert, supersede order and soft delete
- Definitions stored as config JSON
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/kpi-engine/kpi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var assignedAt = time.Date(2024, 7, 1, 8, 30, 0, 0, time.UTC)

func TestRecordRoundTrip(t *testing.T) {
	// GIVEN: a record moved to in_progress with a comment
	s := newTestStore(t)
	ctx := context.Background()

	rec := kpi.NewRecord("rec-1", "kpi-1", "emp-1", "2024-Q3", decimal.RequireFromString("120.5"), "hr-1", assignedAt)
	rec.Notes = "north region"
	require.NoError(t, s.SaveRecord(ctx, rec))

	rec.Status = kpi.StatusInProgress
	rec.ActualValue = decimal.NewFromInt(40)
	rec.History = append(rec.History, kpi.HistoryEntry{
		Status: kpi.StatusInProgress, ChangedAt: assignedAt.Add(time.Hour), ChangedBy: "emp-1", Comment: "started",
	})
	require.NoError(t, s.SaveRecord(ctx, rec))

	// WHEN: loaded back
	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)

	// THEN: values and history survive
	assert.Equal(t, kpi.StatusInProgress, got.Status)
	assert.True(t, decimal.RequireFromString("120.5").Equal(got.TargetValue))
	assert.True(t, decimal.NewFromInt(40).Equal(got.ActualValue))
	assert.Equal(t, "north region", got.Notes)
	require.Len(t, got.History, 2)
	assert.Equal(t, "hr-1", got.History[0].ChangedBy)
	assert.Equal(t, "started", got.History[1].Comment)
	assert.True(t, assignedAt.Add(time.Hour).Equal(got.History[1].ChangedAt))
	assert.True(t, got.HistoryConsistent())

	_, err = s.GetRecord(ctx, "rec-2")
	assert.ErrorIs(t, err, kpi.ErrRecordNotFound)
}

func TestSaveRecord_HistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := kpi.NewRecord("rec-1", "kpi-1", "emp-1", "2024-Q3", decimal.NewFromInt(100), "hr-1", assignedAt)
	require.NoError(t, s.SaveRecord(ctx, rec))

	// Rewriting an existing entry is ignored; only new entries are stored
	rec.History[0].Comment = "rewritten"
	rec.Status = kpi.StatusInProgress
	rec.History = append(rec.History, kpi.HistoryEntry{Status: kpi.StatusInProgress, ChangedAt: assignedAt})
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "assigned", got.History[0].Comment)

	// Saving again without a new entry is refused
	assert.ErrorIs(t, s.SaveRecord(ctx, rec), kpi.ErrConcurrentUpdate)
}

func TestSaveRecord_StaleCopyIsRejected(t *testing.T) {
	// GIVEN: two callers holding the same not_started record
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRecord(ctx,
		kpi.NewRecord("rec-1", "kpi-1", "emp-1", "2024-Q3", decimal.NewFromInt(100), "hr-1", assignedAt)))

	first, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	second, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)

	move := func(rec kpi.Record, to kpi.Status) kpi.Record {
		rec.Status = to
		rec.ActualValue = decimal.NewFromInt(50)
		rec.History = append(rec.History, kpi.HistoryEntry{Status: to, ChangedAt: assignedAt.Add(time.Hour), ChangedBy: "emp-1"})
		return rec
	}

	// WHEN: both save a different transition
	require.NoError(t, s.SaveRecord(ctx, move(first, kpi.StatusInProgress)))
	err = s.SaveRecord(ctx, move(second, kpi.StatusAwaitingApproval))

	// THEN: the second save is a conflict and the stored record is intact
	assert.ErrorIs(t, err, kpi.ErrConcurrentUpdate)

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, kpi.StatusInProgress, got.Status)
	require.Len(t, got.History, 2)
	assert.True(t, got.HistoryConsistent())

	// AND: a caller that reloads can continue
	fresh, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.NoError(t, s.SaveRecord(ctx, move(fresh, kpi.StatusSubmitted)))
}

func TestSaveRecord_StatusMustMatchHistory(t *testing.T) {
	s := newTestStore(t)
	rec := kpi.NewRecord("rec-1", "kpi-1", "emp-1", "2024-Q3", decimal.NewFromInt(100), "hr-1", assignedAt)
	rec.Status = kpi.StatusApproved

	assert.ErrorIs(t, s.SaveRecord(context.Background(), rec), kpi.ErrInvalidRecord)
}

func TestSaveRecord_AfterLegacyRow(t *testing.T) {
	// GIVEN: a row written by an older release
	s := newTestStore(t)
	ctx := context.Background()
	raw := kpi.Record{ID: "rec-old", KpiID: "kpi-1", EmployeeID: "emp-1", Period: "2023-Q4",
		TargetValue: decimal.NewFromInt(100), ActualValue: decimal.NewFromInt(90)}
	require.NoError(t, s.InsertRawRecord(ctx, raw, "completed", []string{"pending", "completed"}))

	// WHEN: approved through a normal read-modify-save
	rec, err := s.GetRecord(ctx, "rec-old")
	require.NoError(t, err)
	rec.Status = kpi.StatusApproved
	rec.History = append(rec.History, kpi.HistoryEntry{Status: kpi.StatusApproved, ChangedAt: assignedAt})
	require.NoError(t, s.SaveRecord(ctx, rec))

	// THEN: migrated and new entries read back consistently
	got, err := s.GetRecord(ctx, "rec-old")
	require.NoError(t, err)
	assert.Equal(t, kpi.StatusApproved, got.Status)
	assert.Len(t, got.History, 3)
}

func TestListRecordsByPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, r := range []struct{ id, period string }{{"rec-b", "2024-Q3"}, {"rec-a", "2024-Q3"}, {"rec-c", "2024-Q4"}} {
		require.NoError(t, s.SaveRecord(ctx,
			kpi.NewRecord(r.id, "kpi-1", "emp-1", r.period, decimal.NewFromInt(1), "hr", assignedAt)))
	}

	q3, err := s.ListRecordsByPeriod(ctx, "2024-Q3")
	require.NoError(t, err)
	require.Len(t, q3, 2)
	assert.Equal(t, "rec-a", q3[0].ID)
	assert.Len(t, q3[1].History, 1)

	all, err := s.ListRecordsByPeriod(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLegacyStatusesMigratedOnRead(t *testing.T) {
	// GIVEN: a row exported by an older release
	s := newTestStore(t)
	ctx := context.Background()
	rec := kpi.Record{ID: "rec-old", KpiID: "kpi-1", EmployeeID: "emp-1", Period: "2023-Q4",
		TargetValue: decimal.NewFromInt(100), ActualValue: decimal.NewFromInt(90)}
	require.NoError(t, s.InsertRawRecord(ctx, rec, "completed", []string{"pending", "active", "completed"}))

	// WHEN: read through the store
	got, err := s.GetRecord(ctx, "rec-old")
	require.NoError(t, err)

	// THEN: statuses are current values and the record can be approved
	assert.Equal(t, kpi.StatusAwaitingApproval, got.Status)
	assert.Equal(t, []kpi.Status{kpi.StatusNotStarted, kpi.StatusInProgress, kpi.StatusAwaitingApproval},
		[]kpi.Status{got.History[0].Status, got.History[1].Status, got.History[2].Status})
	assert.NoError(t, kpi.ValidateTransition(got, kpi.TransitionRequest{To: kpi.StatusApproved, Role: kpi.RoleAdmin}))

	// AND: an unknown stored value is reported, not guessed
	require.NoError(t, s.InsertRawRecord(ctx, kpi.Record{ID: "rec-bad", Period: "2023-Q4"}, "archived", nil))
	_, err = s.GetRecord(ctx, "rec-bad")
	assert.ErrorIs(t, err, kpi.ErrInvalidState)
}

func TestResults_SupersedeAndSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := kpi.Result{
		KpiRecordID: "rec-1", KpiID: "kpi-1", EmployeeID: "emp-1", Period: "2024-Q3",
		AchievementRate: decimal.RequireFromString("85.5"),
		RewardAmount:    decimal.RequireFromString("855000.00"),
		PenaltyAmount:   decimal.Zero,
		NetAmount:       decimal.RequireFromString("855000.00"),
		Grade:           kpi.GradeGood,
		MatchedPrograms: []string{"stretch"},
		Status:          kpi.ResultCalculated,
		CalculatedAt:    assignedAt,
	}
	firstID, err := s.InsertResult(ctx, first)
	require.NoError(t, err)
	secondID, err := s.InsertResult(ctx, first)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	// The latest insert is the active one
	active, err := s.FindActiveByRecordID(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, secondID, active.ID)
	assert.True(t, first.RewardAmount.Equal(active.RewardAmount))
	assert.Equal(t, []string{"stretch"}, active.MatchedPrograms)
	assert.True(t, assignedAt.Equal(active.CalculatedAt))

	require.NoError(t, s.SoftDeleteResult(ctx, secondID))
	active, err = s.FindActiveByRecordID(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, firstID, active.ID)

	byPeriod, err := s.ListResultsByPeriod(ctx, "2024-Q3")
	require.NoError(t, err)
	assert.Len(t, byPeriod, 1)

	deleted, err := s.GetResult(ctx, secondID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	none, err := s.FindActiveByRecordID(ctx, "rec-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestResults_StatusAndNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertResult(ctx, kpi.Result{KpiRecordID: "rec-1", Status: kpi.ResultCalculated, CalculatedAt: assignedAt})
	require.NoError(t, err)
	require.NoError(t, s.SetResultStatus(ctx, id, kpi.ResultApproved))

	got, err := s.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, kpi.ResultApproved, got.Status)

	assert.ErrorIs(t, s.SetResultStatus(ctx, "missing", kpi.ResultPaid), kpi.ErrResultNotFound)
	assert.ErrorIs(t, s.SoftDeleteResult(ctx, "missing"), kpi.ErrResultNotFound)
	_, err = s.GetResult(ctx, "missing")
	assert.ErrorIs(t, err, kpi.ErrResultNotFound)

	_, err = s.InsertResult(ctx, kpi.Result{ID: id, KpiRecordID: "rec-1", CalculatedAt: assignedAt})
	assert.Error(t, err)
}

func TestDefinitionsAndEmployees(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cond, err := kpi.BuildCondition("department", "eq", "Sales", nil, "")
	require.NoError(t, err)
	threshold := decimal.NewFromInt(90)
	def := kpi.Definition{
		ID: "kpi-1", Name: "Sales", RewardType: kpi.RewardFixed,
		RewardAmount: decimal.NewFromInt(1000), RewardThreshold: &threshold,
		Programs: []kpi.RuleProgram{{ID: "p", Kind: kpi.ProgramReward, Amount: decimal.NewFromInt(5), Conditions: []kpi.Condition{cond}}},
	}
	require.NoError(t, s.SaveDefinition(ctx, def))
	def.Name = "Sales v2"
	require.NoError(t, s.SaveDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, "kpi-1")
	require.NoError(t, err)
	assert.Equal(t, "Sales v2", got.Name)
	require.NotNil(t, got.RewardThreshold)
	assert.True(t, threshold.Equal(*got.RewardThreshold))
	require.Len(t, got.Programs, 1)
	assert.Equal(t, []kpi.Condition{cond}, got.Programs[0].Conditions)

	var version int
	require.NoError(t, s.db.QueryRow("SELECT version FROM kpi_definitions WHERE id = 'kpi-1'").Scan(&version))
	assert.Equal(t, 2, version)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = s.GetDefinition(ctx, "kpi-2")
	assert.ErrorIs(t, err, kpi.ErrDefinitionNotFound)

	require.NoError(t, s.SaveEmployee(ctx, kpi.Employee{ID: "emp-1", Name: "Ana", Department: "Sales"}))
	emp, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Sales", emp.Department)

	_, err = s.GetEmployee(ctx, "emp-2")
	assert.ErrorIs(t, err, kpi.ErrEmployeeNotFound)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRecord(ctx, kpi.NewRecord("rec-1", "kpi-1", "emp-1", "2024-Q3", decimal.NewFromInt(1), "hr", assignedAt)))
	require.NoError(t, s.SaveEmployee(ctx, kpi.Employee{ID: "emp-1", Name: "Ana"}))

	require.NoError(t, s.Reset(ctx))

	recs, err := s.ListRecordsByPeriod(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, recs)
	emps, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, emps)
}

func TestResults_CorruptedColumnsFailTheRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		update string
	}{
		{"reward amount", "UPDATE calculation_results SET reward_amount = 'n/a' WHERE id = ?"},
		{"matched programs", "UPDATE calculation_results SET matched_programs_json = '[\"stretch\"' WHERE id = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: a stored result whose column was damaged outside the store
			id, err := s.InsertResult(ctx, kpi.Result{KpiRecordID: "rec-" + tt.name, Status: kpi.ResultCalculated, CalculatedAt: assignedAt})
			require.NoError(t, err)
			_, err = s.db.ExecContext(ctx, tt.update, id)
			require.NoError(t, err)

			// WHEN/THEN: reading it reports the damage instead of returning zero
			_, err = s.GetResult(ctx, id)
			assert.ErrorContains(t, err, tt.name)
			_, err = s.FindActiveByRecordID(ctx, "rec-"+tt.name)
			assert.Error(t, err)
		})
	}
}
