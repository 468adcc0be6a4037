/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates employees, KPI definitions and
	records, then drives records through the state machine the same way
	the HTTP surface would.

AVAILABLE SCENARIOS:

	quarterly-sales:    Sales team with percentage rewards, fixed penalties
	                    and a stretch bonus program; records at every stage
	approval-pipeline:  One record per lifecycle status, including a
	                    rejection and resubmission
	duplicate-results:  A record with two active results, ready for
	                    POST /api/calculations/deduplicate

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create definitions via factory JSON
 3. Create employees
 4. Assign records
 5. Apply transitions (approval triggers calculation)

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "quarterly-sales"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/definition.go: Definition JSON schema
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/kpi"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoPeriod = "2024-Q3"

var scenarios = []ScenarioDTO{
	{
		ID:          "quarterly-sales",
		Name:        "Quarterly Sales",
		Description: "Percentage reward, fixed penalty and a stretch bonus across a sales team",
	},
	{
		ID:          "approval-pipeline",
		Name:        "Approval Pipeline",
		Description: "Records in every lifecycle status, including a rejected resubmission",
	},
	{
		ID:          "duplicate-results",
		Name:        "Duplicate Results",
		Description: "Two active results for one record, repaired by deduplication",
	},
}

const salesDefinitionJSON = `{
  "id": "kpi-sales",
  "name": "Quarterly sales",
  "unit": "units",
  "reward_type": "percentage",
  "reward_amount": "1000000",
  "reward_threshold": "80",
  "max_reward": "2000000",
  "penalty_type": "fixed",
  "penalty_amount": "500000",
  "penalty_threshold": "60",
  "programs": [
    {
      "id": "stretch",
      "name": "Stretch bonus",
      "kind": "reward",
      "amount": "300000",
      "conditions": [
        {"metric": "achievementRate", "operator": "gte", "value": 110},
        {"metric": "department", "operator": "eq", "value": "Sales", "logical_operator": "AND"}
      ]
    }
  ]
}`

const supportDefinitionJSON = `{
  "id": "kpi-csat",
  "name": "Customer satisfaction",
  "unit": "score",
  "reward_type": "variable",
  "reward_amount": "200000",
  "max_reward": "250000",
  "penalty_type": "variable",
  "penalty_amount": "100000"
}`

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "quarterly-sales":
		load = h.loadQuarterlySalesScenario
	case "approval-pipeline":
		load = h.loadApprovalPipelineScenario
	case "duplicate-results":
		load = h.loadDuplicateResultsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every table.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadQuarterlySalesScenario(ctx context.Context) error {
	if err := h.createDefinitionFromJSON(ctx, salesDefinitionJSON); err != nil {
		return err
	}
	if err := h.createEmployees(ctx,
		kpi.Employee{ID: "emp-ana", Name: "Ana Lopez", Department: "Sales"},
		kpi.Employee{ID: "emp-ben", Name: "Ben Okafor", Department: "Sales"},
		kpi.Employee{ID: "emp-cho", Name: "Cho Min", Department: "Sales"},
		kpi.Employee{ID: "emp-dev", Name: "Dev Patel", Department: "Sales"},
	); err != nil {
		return err
	}

	// actual values: 85% (reward), 120% (reward + stretch), 40% (penalty), pending
	approved := map[string]int64{"emp-ana": 85, "emp-ben": 120, "emp-cho": 40}
	for _, empID := range []string{"emp-ana", "emp-ben", "emp-cho", "emp-dev"} {
		rec, err := h.assign(ctx, "rec-sales-"+empID, "kpi-sales", empID, 100)
		if err != nil {
			return err
		}
		actual, ok := approved[empID]
		if !ok {
			if err := h.walk(ctx, rec.ID, empID, 0, kpi.StatusInProgress); err != nil {
				return err
			}
			continue
		}
		if err := h.walk(ctx, rec.ID, empID, actual,
			kpi.StatusInProgress, kpi.StatusSubmitted, kpi.StatusApproved); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadApprovalPipelineScenario(ctx context.Context) error {
	if err := h.createDefinitionFromJSON(ctx, supportDefinitionJSON); err != nil {
		return err
	}
	if err := h.createEmployees(ctx,
		kpi.Employee{ID: "emp-eve", Name: "Eve Martin", Department: "Support"},
	); err != nil {
		return err
	}

	pipeline := []struct {
		id     string
		actual int64
		steps  []kpi.Status
	}{
		{"rec-csat-not-started", 0, nil},
		{"rec-csat-in-progress", 0, []kpi.Status{kpi.StatusInProgress}},
		{"rec-csat-submitted", 70, []kpi.Status{kpi.StatusInProgress, kpi.StatusSubmitted}},
		{"rec-csat-awaiting", 90, []kpi.Status{kpi.StatusInProgress, kpi.StatusAwaitingApproval}},
		{"rec-csat-approved", 95, []kpi.Status{kpi.StatusInProgress, kpi.StatusAwaitingApproval, kpi.StatusApproved}},
		{"rec-csat-rejected", 30, []kpi.Status{kpi.StatusInProgress, kpi.StatusSubmitted, kpi.StatusRejected}},
	}
	for _, p := range pipeline {
		if _, err := h.assign(ctx, p.id, "kpi-csat", "emp-eve", 100); err != nil {
			return err
		}
		if err := h.walk(ctx, p.id, "emp-eve", p.actual, p.steps...); err != nil {
			return err
		}
	}

	// Rejected record reopened with a corrected value.
	_, err := h.Service.ApplyTransition(ctx, kpi.TransitionCommand{
		RecordID: "rec-csat-rejected",
		To:       kpi.StatusInProgress,
		Role:     kpi.RoleEmployee,
		ActorID:  "emp-eve",
		Actual:   decimalPtr(65),
		Comment:  "corrected survey count",
	})
	return err
}

func (h *Handler) loadDuplicateResultsScenario(ctx context.Context) error {
	if err := h.loadQuarterlySalesScenario(ctx); err != nil {
		return err
	}
	// A second writer that missed the first result: insert without superseding.
	rec, err := h.Store.GetRecord(ctx, "rec-sales-emp-ana")
	if err != nil {
		return err
	}
	def, err := h.Store.GetDefinition(ctx, rec.KpiID)
	if err != nil {
		return err
	}
	emp, err := h.Store.GetEmployee(ctx, rec.EmployeeID)
	if err != nil {
		return err
	}
	_, err = h.Store.InsertResult(ctx, h.Service.Calculator.Calculate(rec, def, emp))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createDefinitionFromJSON(ctx context.Context, jsonStr string) error {
	def, err := h.DefinitionFactory.ParseDefinition(jsonStr)
	if err != nil {
		return err
	}
	return h.Store.SaveDefinition(ctx, def)
}

func (h *Handler) createEmployees(ctx context.Context, employees ...kpi.Employee) error {
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("failed to create employee %s: %w", e.ID, err)
		}
	}
	return nil
}

func (h *Handler) assign(ctx context.Context, id, kpiID, empID string, target int64) (kpi.Record, error) {
	return h.Service.AssignRecord(ctx, kpi.AssignInput{
		ID:         id,
		KpiID:      kpiID,
		EmployeeID: empID,
		Period:     demoPeriod,
		Target:     decimal.NewFromInt(target),
		AssignedBy: "hr-demo",
	})
}

// walk applies steps in order. Submission steps carry the actual value; admin
// steps (approved, rejected) are signed by hr-demo.
func (h *Handler) walk(ctx context.Context, recordID, empID string, actual int64, steps ...kpi.Status) error {
	for _, to := range steps {
		cmd := kpi.TransitionCommand{RecordID: recordID, To: to, Role: kpi.RoleEmployee, ActorID: empID}
		switch to {
		case kpi.StatusApproved, kpi.StatusRejected:
			cmd.Role = kpi.RoleAdmin
			cmd.ActorID = "hr-demo"
		case kpi.StatusSubmitted, kpi.StatusAwaitingApproval:
			cmd.Actual = decimalPtr(actual)
		}
		if _, err := h.Service.ApplyTransition(ctx, cmd); err != nil {
			return fmt.Errorf("%s -> %s: %w", recordID, to, err)
		}
	}
	return nil
}
