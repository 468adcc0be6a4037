// Package store provides in-memory implementations of the kpi ports.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/kpi-engine/kpi"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	records     map[string]kpi.Record
	definitions map[string]kpi.Definition
	employees   map[string]kpi.Employee
	results     map[string]kpi.Result
	resultOrder []string // insertion order
}

var _ kpi.Stores = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string]kpi.Record),
		definitions: make(map[string]kpi.Definition),
		employees:   make(map[string]kpi.Employee),
		results:     make(map[string]kpi.Result),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

// GetRecord returns a copy with legacy statuses migrated.
func (m *Memory) GetRecord(_ context.Context, id string) (kpi.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return kpi.Record{}, kpi.ErrRecordNotFound
	}
	return kpi.NormalizeRecord(rec)
}

// SaveRecord stores rec as given. Replacing a record requires rec to extend
// the stored history; see kpi.Record.CheckSave.
func (m *Memory) SaveRecord(_ context.Context, rec kpi.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.records[rec.ID]
	stored := make([]kpi.Status, len(prev.History))
	for i, h := range prev.History {
		stored[i] = h.Status
	}
	if err := rec.CheckSave(stored, exists); err != nil {
		return err
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) ListRecordsByPeriod(_ context.Context, period string) ([]kpi.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kpi.Record
	for _, rec := range m.records {
		if period != "" && rec.Period != period {
			continue
		}
		normalized, err := kpi.NormalizeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		out = append(out, normalized)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// DEFINITIONS AND EMPLOYEES
// =============================================================================

func (m *Memory) GetDefinition(_ context.Context, kpiID string) (kpi.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[kpiID]
	if !ok {
		return kpi.Definition{}, kpi.ErrDefinitionNotFound
	}
	return def, nil
}

func (m *Memory) SaveDefinition(_ context.Context, def kpi.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	return nil
}

func (m *Memory) ListDefinitions(_ context.Context) ([]kpi.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kpi.Definition, 0, len(m.definitions))
	for _, d := range m.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetEmployee(_ context.Context, employeeID string) (kpi.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	emp, ok := m.employees[employeeID]
	if !ok {
		return kpi.Employee{}, kpi.ErrEmployeeNotFound
	}
	return emp, nil
}

func (m *Memory) SaveEmployee(_ context.Context, emp kpi.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]kpi.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kpi.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// RESULTS - Insert and soft delete only
// =============================================================================

func (m *Memory) FindActiveByRecordID(_ context.Context, recordID string) (*kpi.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.resultOrder) - 1; i >= 0; i-- {
		r := m.results[m.resultOrder[i]]
		if r.KpiRecordID == recordID && !r.IsDeleted {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertResult(_ context.Context, r kpi.Result) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = "res-" + uuid.NewString()
	}
	r.MatchedPrograms = append([]string(nil), r.MatchedPrograms...)
	if _, exists := m.results[r.ID]; !exists {
		m.resultOrder = append(m.resultOrder, r.ID)
	}
	m.results[r.ID] = r
	return r.ID, nil
}

func (m *Memory) SoftDeleteResult(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return kpi.ErrResultNotFound
	}
	r.IsDeleted = true
	m.results[id] = r
	return nil
}

func (m *Memory) ListResultsByPeriod(_ context.Context, period string) ([]kpi.Result, error) {
	return m.listResults(func(r kpi.Result) bool {
		return !r.IsDeleted && (period == "" || r.Period == period)
	}), nil
}

func (m *Memory) ListActiveResults(_ context.Context) ([]kpi.Result, error) {
	return m.listResults(kpi.Result.Active), nil
}

// AllResults includes soft-deleted rows, in insertion order.
func (m *Memory) AllResults() []kpi.Result {
	return m.listResults(func(kpi.Result) bool { return true })
}

func (m *Memory) listResults(keep func(kpi.Result) bool) []kpi.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kpi.Result
	for _, id := range m.resultOrder {
		if r := m.results[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) GetResult(_ context.Context, id string) (kpi.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return kpi.Result{}, kpi.ErrResultNotFound
	}
	return r, nil
}

func (m *Memory) SetResultStatus(_ context.Context, id string, status kpi.ResultStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return kpi.ErrResultNotFound
	}
	r.Status = status
	m.results[id] = r
	return nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]kpi.Record)
	m.definitions = make(map[string]kpi.Definition)
	m.employees = make(map[string]kpi.Employee)
	m.results = make(map[string]kpi.Result)
	m.resultOrder = nil
	return nil
}
