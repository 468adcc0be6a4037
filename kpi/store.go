/*
store.go - Ports the core calls

PURPOSE:
  Narrow persistence interfaces. The core never knows which database sits
  behind them and never retries their errors.

KEY INTERFACES:
  RecordStore:       KPI records (read, save, list by period)
  DefinitionStore:   KPI definitions (read-only to the core)
  EmployeeDirectory: Employee name and department
  ResultStore:       Calculation results with soft delete

SOFT DELETE CONTRACT:
  ResultStore has no update and no hard delete. A recomputation inserts a
  fresh result and soft-deletes the prior one. Concurrent writers may leave
  more than one active result for a record; Deduplicate repairs that.

IMPLEMENTATIONS:
  - kpi/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
*/
package kpi

import "context"

// Get methods return the matching ErrXNotFound sentinel when absent.

type RecordStore interface {
	GetRecord(ctx context.Context, id string) (Record, error)
	SaveRecord(ctx context.Context, rec Record) error
	ListRecordsByPeriod(ctx context.Context, period string) ([]Record, error)
}

type DefinitionStore interface {
	GetDefinition(ctx context.Context, kpiID string) (Definition, error)
}

type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)
}

type ResultStore interface {
	// FindActiveByRecordID returns (nil, nil) when no active result exists.
	FindActiveByRecordID(ctx context.Context, recordID string) (*Result, error)

	// InsertResult stores r and returns its id, assigning one if r.ID is empty.
	InsertResult(ctx context.Context, r Result) (string, error)

	SoftDeleteResult(ctx context.Context, id string) error

	ListResultsByPeriod(ctx context.Context, period string) ([]Result, error)

	// ListActiveResults returns every result with IsDeleted == false.
	ListActiveResults(ctx context.Context) ([]Result, error)

	GetResult(ctx context.Context, id string) (Result, error)

	// SetResultStatus moves a result through its payout lifecycle.
	SetResultStatus(ctx context.Context, id string, status ResultStatus) error
}

// Stores bundles every port. Both store implementations satisfy it.
type Stores interface {
	RecordStore
	DefinitionStore
	EmployeeDirectory
	ResultStore
}
