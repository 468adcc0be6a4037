/*
Package sqlite provides a SQLite-backed implementation of the kpi ports.

PURPOSE:
  Implements kpi.Stores (records, definitions, employees, results) using
  SQLite. The same patterns apply to PostgreSQL with minor dialect changes.

KEY TABLES:
  kpi_records:         One row per record, current status and values
  kpi_record_history:  Append-only status history, ordered by seq
  kpi_definitions:     Definition config as JSON (see factory/definition.go)
  employees:           Name and department
  calculation_results: Calculated outcomes, soft-deleted via is_deleted

SOFT DELETE ENFORCEMENT:
  - calculation_results rows are never updated except is_deleted and status
  - No DELETE statements on calculation_results

LEGACY STATUSES:
  Older releases wrote statuses such as "pending" or "completed". Every
  read passes through kpi.NormalizeRecord, so callers only ever see current
  statuses. A row with an unrecognized status fails the read with
  invalid_state.

CONCURRENT SAVES:
  SaveRecord only accepts a record whose history extends the stored one by
  at least one entry, and updates the row only if its status is still the
  one it read. Two transitions built from the same read cannot both land:
  the second gets kpi.ErrConcurrentUpdate.

MONEY:
  Decimals are stored as TEXT to keep exact values. A value that does not
  parse fails the read.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/kpi.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := kpi.NewService(store)

SEE ALSO:
  - kpi/store.go: Port definitions
  - kpi/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/factory"
	"github.com/warp/kpi-engine/kpi"
)

// Store implements kpi.Stores using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.DefinitionFactory
}

var _ kpi.Stores = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// :memory: databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, factory: factory.NewDefinitionFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kpi_records (
		id TEXT PRIMARY KEY,
		kpi_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		target_value TEXT NOT NULL,
		actual_value TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		notes TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kpi_records_period
		ON kpi_records(period);

	-- Append-only status history
	CREATE TABLE IF NOT EXISTS kpi_record_history (
		record_id TEXT NOT NULL REFERENCES kpi_records(id),
		seq INTEGER NOT NULL,
		status TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		changed_by TEXT,
		comment TEXT,
		PRIMARY KEY (record_id, seq)
	);

	CREATE TABLE IF NOT EXISTS kpi_definitions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS calculation_results (
		id TEXT PRIMARY KEY,
		kpi_record_id TEXT NOT NULL,
		kpi_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		achievement_rate TEXT NOT NULL,
		reward_amount TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		grade TEXT NOT NULL,
		matched_programs_json TEXT,
		status TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	-- Active result lookup (hot path on every calculation)
	CREATE INDEX IF NOT EXISTS idx_results_record_active
		ON calculation_results(kpi_record_id, is_deleted);
	CREATE INDEX IF NOT EXISTS idx_results_period
		ON calculation_results(period) WHERE is_deleted = 0;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (kpi.RecordStore interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveRecord upserts the record and appends the history rows it adds, in one
// transaction. A replacement built from a stale read fails with
// kpi.ErrConcurrentUpdate and changes nothing.
func (s *Store) SaveRecord(ctx context.Context, rec kpi.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	exists := true
	err = tx.QueryRowContext(ctx, "SELECT status FROM kpi_records WHERE id = ?", rec.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	stored, err := historyStatuses(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	if err := rec.CheckSave(stored, exists); err != nil {
		return err
	}

	query := `
		INSERT INTO kpi_records
		(id, kpi_id, employee_id, period, target_value, actual_value, status,
		 start_date, end_date, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			target_value = excluded.target_value,
			actual_value = excluded.actual_value,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		WHERE kpi_records.status = ?
	`
	res, err := tx.ExecContext(ctx, query,
		rec.ID, rec.KpiID, rec.EmployeeID, rec.Period,
		rec.TargetValue.String(), rec.ActualValue.String(), string(rec.Status),
		formatTime(rec.StartDate), formatTime(rec.EndDate), nullString(rec.Notes),
		time.Now().UTC().Format(time.RFC3339), current,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: record %s", kpi.ErrConcurrentUpdate, rec.ID)
	}

	for i := len(stored); i < len(rec.History); i++ {
		if err := appendHistory(ctx, tx, rec.ID, i, rec.History[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// historyStatuses returns the stored history statuses of a record, in order.
func historyStatuses(ctx context.Context, db queryer, recordID string) ([]kpi.Status, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT status FROM kpi_record_history WHERE record_id = ? ORDER BY seq", recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var statuses []kpi.Status
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		statuses = append(statuses, kpi.Status(st))
	}
	return statuses, rows.Err()
}

func appendHistory(ctx context.Context, db execer, recordID string, seq int, h kpi.HistoryEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kpi_record_history (record_id, seq, status, changed_at, changed_by, comment)
		VALUES (?, ?, ?, ?, ?, ?)`,
		recordID, seq, string(h.Status), h.ChangedAt.UTC().Format(time.RFC3339Nano),
		nullString(h.ChangedBy), nullString(h.Comment),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("history entry %d for %s already stored: %w", seq, recordID, err)
		}
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

const recordColumns = `id, kpi_id, employee_id, period, target_value, actual_value, status,
	start_date, end_date, notes`

// GetRecord loads a record with its history, normalizing legacy statuses.
func (s *Store) GetRecord(ctx context.Context, id string) (kpi.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.queryRecords(ctx, "SELECT "+recordColumns+" FROM kpi_records WHERE id = ?", id)
	if err != nil {
		return kpi.Record{}, err
	}
	if len(recs) == 0 {
		return kpi.Record{}, kpi.ErrRecordNotFound
	}
	return recs[0], nil
}

// ListRecordsByPeriod returns every record of the period; an empty period
// lists all records.
func (s *Store) ListRecordsByPeriod(ctx context.Context, period string) ([]kpi.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if period == "" {
		return s.queryRecords(ctx, "SELECT "+recordColumns+" FROM kpi_records ORDER BY id")
	}
	return s.queryRecords(ctx, "SELECT "+recordColumns+" FROM kpi_records WHERE period = ? ORDER BY id", period)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]kpi.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	var recs []kpi.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range recs {
		history, err := s.loadHistory(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].History = history
		normalized, err := kpi.NormalizeRecord(recs[i])
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", recs[i].ID, err)
		}
		recs[i] = normalized
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (kpi.Record, error) {
	var rec kpi.Record
	var target, actual, status string
	var startDate, endDate, notes sql.NullString

	if err := rows.Scan(&rec.ID, &rec.KpiID, &rec.EmployeeID, &rec.Period,
		&target, &actual, &status, &startDate, &endDate, &notes); err != nil {
		return kpi.Record{}, err
	}

	var err error
	if rec.TargetValue, err = decimal.NewFromString(target); err != nil {
		return kpi.Record{}, fmt.Errorf("record %s: bad target value: %w", rec.ID, err)
	}
	if rec.ActualValue, err = decimal.NewFromString(actual); err != nil {
		return kpi.Record{}, fmt.Errorf("record %s: bad actual value: %w", rec.ID, err)
	}
	rec.Status = kpi.Status(status)
	rec.StartDate = parseTime(startDate.String)
	rec.EndDate = parseTime(endDate.String)
	rec.Notes = notes.String
	return rec, nil
}

func (s *Store) loadHistory(ctx context.Context, recordID string) ([]kpi.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, changed_at, changed_by, comment
		FROM kpi_record_history WHERE record_id = ? ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []kpi.HistoryEntry
	for rows.Next() {
		var h kpi.HistoryEntry
		var status, changedAt string
		var changedBy, comment sql.NullString
		if err := rows.Scan(&status, &changedAt, &changedBy, &comment); err != nil {
			return nil, err
		}
		h.Status = kpi.Status(status)
		h.ChangedAt = parseTime(changedAt)
		h.ChangedBy = changedBy.String
		h.Comment = comment.String
		history = append(history, h)
	}
	return history, rows.Err()
}

// =============================================================================
// DEFINITION STORE
// =============================================================================

// SaveDefinition stores the definition as config JSON, bumping its version
// on update.
func (s *Store) SaveDefinition(ctx context.Context, def kpi.Definition) error {
	configJSON, err := s.factory.MarshalDefinition(def)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO kpi_definitions (id, name, config_json, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = kpi_definitions.version + 1,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, query, def.ID, def.Name, configJSON, now, now); err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, kpiID string) (kpi.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json FROM kpi_definitions WHERE id = ?", kpiID,
	).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Definition{}, kpi.ErrDefinitionNotFound
	}
	if err != nil {
		return kpi.Definition{}, err
	}
	return s.factory.ParseDefinition(configJSON)
}

func (s *Store) ListDefinitions(ctx context.Context) ([]kpi.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT config_json FROM kpi_definitions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []kpi.Definition
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		def, err := s.factory.ParseDefinition(configJSON)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp kpi.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, department, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			department = excluded.department
	`
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Department),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id string) (kpi.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp kpi.Employee
	var dept sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, department FROM employees WHERE id = ?", id,
	).Scan(&emp.ID, &emp.Name, &dept)
	if errors.Is(err, sql.ErrNoRows) {
		return kpi.Employee{}, kpi.ErrEmployeeNotFound
	}
	if err != nil {
		return kpi.Employee{}, err
	}
	emp.Department = dept.String
	return emp, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]kpi.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, department FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []kpi.Employee
	for rows.Next() {
		var emp kpi.Employee
		var dept sql.NullString
		if err := rows.Scan(&emp.ID, &emp.Name, &dept); err != nil {
			return nil, err
		}
		emp.Department = dept.String
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// RESULT STORE (kpi.ResultStore interface)
// =============================================================================

const resultColumns = `id, kpi_record_id, kpi_id, employee_id, period, achievement_rate,
	reward_amount, penalty_amount, net_amount, grade, matched_programs_json, status,
	calculated_at, is_deleted`

// FindActiveByRecordID returns the most recently inserted active result.
func (s *Store) FindActiveByRecordID(ctx context.Context, recordID string) (*kpi.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.queryResults(ctx,
		"SELECT "+resultColumns+" FROM calculation_results WHERE kpi_record_id = ? AND is_deleted = 0 ORDER BY seq DESC LIMIT 1",
		recordID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func (s *Store) InsertResult(ctx context.Context, r kpi.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = "res-" + uuid.NewString()
	}
	matched, _ := json.Marshal(r.MatchedPrograms)

	query := `
		INSERT INTO calculation_results
		(id, kpi_record_id, kpi_id, employee_id, period, achievement_rate,
		 reward_amount, penalty_amount, net_amount, grade, matched_programs_json,
		 status, calculated_at, is_deleted, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM calculation_results))
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.KpiRecordID, r.KpiID, r.EmployeeID, r.Period,
		r.AchievementRate.String(), r.RewardAmount.String(), r.PenaltyAmount.String(),
		r.NetAmount.String(), string(r.Grade), string(matched), string(r.Status),
		r.CalculatedAt.UTC().Format(time.RFC3339Nano), boolToInt(r.IsDeleted),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("result %s already exists: %w", r.ID, err)
		}
		return "", fmt.Errorf("failed to insert result: %w", err)
	}
	return r.ID, nil
}

func (s *Store) SoftDeleteResult(ctx context.Context, id string) error {
	return s.updateResult(ctx, "UPDATE calculation_results SET is_deleted = 1 WHERE id = ?", id)
}

func (s *Store) SetResultStatus(ctx context.Context, id string, status kpi.ResultStatus) error {
	return s.updateResult(ctx, "UPDATE calculation_results SET status = ? WHERE id = ?", string(status), id)
}

func (s *Store) updateResult(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return kpi.ErrResultNotFound
	}
	return nil
}

// ListResultsByPeriod returns active results; an empty period lists all.
func (s *Store) ListResultsByPeriod(ctx context.Context, period string) ([]kpi.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if period == "" {
		return s.queryResults(ctx, "SELECT "+resultColumns+" FROM calculation_results WHERE is_deleted = 0 ORDER BY seq")
	}
	return s.queryResults(ctx,
		"SELECT "+resultColumns+" FROM calculation_results WHERE period = ? AND is_deleted = 0 ORDER BY seq", period)
}

func (s *Store) ListActiveResults(ctx context.Context) ([]kpi.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryResults(ctx, "SELECT "+resultColumns+" FROM calculation_results WHERE is_deleted = 0 ORDER BY seq")
}

func (s *Store) GetResult(ctx context.Context, id string) (kpi.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.queryResults(ctx, "SELECT "+resultColumns+" FROM calculation_results WHERE id = ?", id)
	if err != nil {
		return kpi.Result{}, err
	}
	if len(results) == 0 {
		return kpi.Result{}, kpi.ErrResultNotFound
	}
	return results[0], nil
}

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]kpi.Result, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []kpi.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanResult(rows *sql.Rows) (kpi.Result, error) {
	var r kpi.Result
	var rate, reward, penalty, net, grade, status, calculatedAt string
	var matched sql.NullString
	var deleted int

	if err := rows.Scan(&r.ID, &r.KpiRecordID, &r.KpiID, &r.EmployeeID, &r.Period,
		&rate, &reward, &penalty, &net, &grade, &matched, &status, &calculatedAt, &deleted); err != nil {
		return kpi.Result{}, err
	}

	amounts := []struct {
		dst  *decimal.Decimal
		name string
		raw  string
	}{
		{&r.AchievementRate, "achievement rate", rate},
		{&r.RewardAmount, "reward amount", reward},
		{&r.PenaltyAmount, "penalty amount", penalty},
		{&r.NetAmount, "net amount", net},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return kpi.Result{}, fmt.Errorf("result %s: bad %s: %w", r.ID, a.name, err)
		}
		*a.dst = d
	}
	r.Grade = kpi.Grade(grade)
	r.Status = kpi.ResultStatus(status)
	r.CalculatedAt = parseTime(calculatedAt)
	r.IsDeleted = deleted != 0
	if matched.Valid && matched.String != "" && matched.String != "null" {
		if err := json.Unmarshal([]byte(matched.String), &r.MatchedPrograms); err != nil {
			return kpi.Result{}, fmt.Errorf("result %s: bad matched programs: %w", r.ID, err)
		}
	}
	return r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"calculation_results", "kpi_record_history", "kpi_records", "employees", "kpi_definitions"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// InsertRawRecord writes a record row with a verbatim status string. Used to
// load data exported by older releases.
func (s *Store) InsertRawRecord(ctx context.Context, rec kpi.Record, status string, history []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kpi_records
		(id, kpi_id, employee_id, period, target_value, actual_value, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.KpiID, rec.EmployeeID, rec.Period,
		rec.TargetValue.String(), rec.ActualValue.String(), status,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	for i, hs := range history {
		h := kpi.HistoryEntry{Status: kpi.Status(hs), ChangedAt: time.Now().UTC()}
		if err := appendHistory(ctx, tx, rec.ID, i, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
