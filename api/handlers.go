/*
handlers.go - HTTP API handlers for the KPI incentive engine

PURPOSE:
  Exposes the kpi package via REST API. Handles HTTP request/response and
  JSON serialization, and delegates to kpi.Service and kpi.BatchRunner.

ENDPOINTS:
  Records:
    GET    /api/records?period=            List records
    POST   /api/records                    Assign a KPI (status not_started)
    GET    /api/records/{id}               Record with history
    POST   /api/records/{id}/transition    Apply a status transition
    POST   /api/records/{id}/calculate     Calculate an approved record

  Definitions / Employees:
    GET|POST /api/definitions
    GET|POST /api/employees

  Calculation:
    POST   /api/rules/evaluate             Evaluate conditions against a data bag
    POST   /api/calculations/bulk          Bulk calculation for a period
    POST   /api/calculations/deduplicate   Repair duplicate active results
    GET    /api/results?period=            Active results
    POST   /api/results/{id}/approve       calculated -> approved
    POST   /api/results/{id}/pay           approved -> paid

ROLES:
  The caller's role and id come from the X-Actor-Role and X-Actor-ID
  headers. Authentication happens upstream; these handlers trust them.

ERROR HANDLING:
  - 400: Malformed input, invalid conditions
  - 404: Record, definition, employee or result not found
  - 409: Result lifecycle conflicts, record not approved
  - 422: Transition rejected by the state machine ({status:"error", kind, message})
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/factory"
	"github.com/warp/kpi-engine/kpi"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is every port plus the admin operations the HTTP surface needs.
// Both kpi/store.Memory and store/sqlite.Store satisfy it.
type Store interface {
	kpi.Stores
	SaveDefinition(ctx context.Context, def kpi.Definition) error
	ListDefinitions(ctx context.Context) ([]kpi.Definition, error)
	SaveEmployee(ctx context.Context, emp kpi.Employee) error
	ListEmployees(ctx context.Context) ([]kpi.Employee, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store             Store
	Service           *kpi.Service
	Batch             *kpi.BatchRunner
	DefinitionFactory *factory.DefinitionFactory
	Logger            *slog.Logger

	// Scheduler is optional; when set, dedup responses report its next run.
	Scheduler *DedupScheduler

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler whose service and batch runner share store.
func NewHandler(store Store, svc *kpi.Service, batch *kpi.BatchRunner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:             store,
		Service:           svc,
		Batch:             batch,
		DefinitionFactory: factory.NewDefinitionFactory(),
		Logger:            logger,
	}
}

// =============================================================================
// RECORD ENDPOINTS
// =============================================================================

// ListRecords returns records, optionally filtered by period.
// GET /api/records?period=2024-Q3
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.ListRecordsByPeriod(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}

	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecord returns a single record with its history.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get record", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// CreateRecord assigns a KPI to an employee.
// POST /api/records
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Service.AssignRecord(r.Context(), kpi.AssignInput{
		ID:         req.ID,
		KpiID:      req.KpiID,
		EmployeeID: req.EmployeeID,
		Period:     req.Period,
		Target:     req.TargetValue,
		StartDate:  start,
		EndDate:    end,
		Notes:      req.Notes,
		AssignedBy: r.Header.Get("X-Actor-ID"),
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// TransitionRecord applies a status change.
// POST /api/records/{id}/transition
//
//	X-Actor-Role: employee
//	{"status": "submitted", "actual_value": "85"}
func (h *Handler) TransitionRecord(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	out, err := h.Service.ApplyTransition(r.Context(), kpi.TransitionCommand{
		RecordID: chi.URLParam(r, "id"),
		To:       kpi.Status(req.Status),
		Role:     kpi.Role(r.Header.Get("X-Actor-Role")),
		ActorID:  r.Header.Get("X-Actor-ID"),
		Actual:   req.ActualValue,
		Comment:  req.Comment,
	})

	var te *kpi.TransitionError
	if errors.As(err, &te) {
		writeJSON(w, http.StatusUnprocessableEntity, TransitionResponse{
			Status:  "error",
			Kind:    string(te.Kind),
			Message: te.Message,
		})
		return
	}
	if err != nil {
		h.writeDomainError(w, "Failed to apply transition", err)
		return
	}

	dto := toRecordDTO(out.Record)
	resp := TransitionResponse{Status: "ok", Record: &dto}
	if out.Result != nil {
		res := toResultDTO(*out.Result)
		resp.Result = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

// CalculateRecord computes (or recomputes) the result of an approved record.
// POST /api/records/{id}/calculate
func (h *Handler) CalculateRecord(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CalculateForRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to calculate record", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// DEFINITION ENDPOINTS
// =============================================================================

func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.ListDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list definitions", err)
		return
	}
	dtos := make([]DefinitionDTO, len(defs))
	for i, d := range defs {
		dtos[i] = h.DefinitionFactory.ToJSON(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDefinition creates or replaces a definition from JSON.
// POST /api/definitions
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var dj factory.DefinitionJSON
	if err := json.NewDecoder(r.Body).Decode(&dj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	def, err := h.DefinitionFactory.FromJSON(dj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid definition", err)
		return
	}
	if err := h.Store.SaveDefinition(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save definition", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.DefinitionFactory.ToJSON(def))
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = EmployeeDTO{ID: e.ID, Name: e.Name, Department: e.Department}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	emp := kpi.Employee{ID: req.ID, Name: req.Name, Department: req.Department}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// CALCULATION ENDPOINTS
// =============================================================================

// EvaluateRules runs a condition list against a caller-supplied data bag.
// POST /api/rules/evaluate
func (h *Handler) EvaluateRules(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	conditions, err := h.DefinitionFactory.ConditionsFromJSON(req.Conditions)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid conditions", err)
		return
	}
	matched := h.Service.EvaluateRules(conditions, kpi.DataBag(req.Data))
	writeJSON(w, http.StatusOK, EvaluateRulesResponse{Matched: matched})
}

// BulkCalculate runs the batch orchestrator over a period.
// POST /api/calculations/bulk
func (h *Handler) BulkCalculate(w http.ResponseWriter, r *http.Request) {
	var req BulkCalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Period == "" {
		writeError(w, http.StatusBadRequest, "period is required", nil)
		return
	}

	out, err := h.Batch.RunBulkCalculation(r.Context(), req.Period, kpi.BulkFilter{
		EmployeeIDs: req.EmployeeIDs,
		KpiIDs:      req.KpiIDs,
		Department:  req.Department,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Bulk calculation failed", err)
		return
	}

	failures := make([]FailureDTO, len(out.Failures))
	for i, f := range out.Failures {
		failures[i] = FailureDTO{RecordID: f.RecordID, Reason: f.Reason}
	}
	writeJSON(w, http.StatusOK, BulkCalculationResponse{
		Period:    out.Period,
		Results:   toResultDTOs(out.Results),
		Failures:  failures,
		Skipped:   out.Skipped,
		Cancelled: out.Cancelled,
		Stats:     toStatsDTO(out.Stats),
	})
}

// Deduplicate runs the maintenance pass on demand. A pass with failed soft
// deletes answers 500 with the partial report and the error.
// POST /api/calculations/deduplicate
func (h *Handler) Deduplicate(w http.ResponseWriter, r *http.Request) {
	report, err := h.Batch.Deduplicate(r.Context())
	resp := DedupResponse{
		Scanned:     report.Scanned,
		Duplicated:  report.Duplicated,
		SoftDeleted: report.SoftDeleted,
	}
	if resp.SoftDeleted == nil {
		resp.SoftDeleted = []string{}
	}
	if h.Scheduler != nil {
		if next := h.Scheduler.GetNextRunTime(); !next.IsZero() {
			resp.NextRunAt = next.Format(time.RFC3339)
		}
	}
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "deduplication incomplete", "error", err)
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListResults returns active results for a period.
// GET /api/results?period=2024-Q3
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Store.ListResultsByPeriod(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list results", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTOs(results))
}

func (h *Handler) ApproveResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ApproveResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to approve result", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) PayResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.MarkResultPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to mark result paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps kpi errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var cfgErr *kpi.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: message, Code: "configuration_error", Details: err.Error(),
		})
	case kpi.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, kpi.ErrRecordNotApproved), errors.Is(err, kpi.ErrInvalidResultTransition),
		errors.Is(err, kpi.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, message, err)
	case kpi.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
