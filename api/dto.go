/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the kpi domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Records:      RecordDTO, HistoryEntryDTO, CreateRecordRequest, TransitionRequest
  Transitions:  TransitionResponse ({status:"ok"} or {status:"error"})
  Results:      ResultDTO, BulkCalculationRequest, BulkCalculationResponse
  Rules:        EvaluateRulesRequest
  Employees:    EmployeeDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the kpi package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/definition.go: DefinitionJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/kpi-engine/factory"
	"github.com/warp/kpi-engine/kpi"
)

// =============================================================================
// RECORDS
// =============================================================================

type HistoryEntryDTO struct {
	Status    string `json:"status"`
	ChangedAt string `json:"changed_at"`
	ChangedBy string `json:"changed_by,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// RecordDTO represents a KPI record in API responses.
type RecordDTO struct {
	ID          string            `json:"id"`
	KpiID       string            `json:"kpi_id"`
	EmployeeID  string            `json:"employee_id"`
	Period      string            `json:"period"`
	TargetValue decimal.Decimal   `json:"target_value"`
	ActualValue decimal.Decimal   `json:"actual_value"`
	Status      string            `json:"status"`
	PeriodType  string            `json:"period_type,omitempty"`
	StartDate   string            `json:"start_date,omitempty"`
	EndDate     string            `json:"end_date,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	History     []HistoryEntryDTO `json:"history"`

	// AllowedTransitions lists the ordinary next statuses for form buttons.
	// Admin fast paths are not included.
	AllowedTransitions []string `json:"allowed_transitions"`
}

// CreateRecordRequest assigns a KPI to an employee for a period.
type CreateRecordRequest struct {
	ID          string          `json:"id,omitempty"`
	KpiID       string          `json:"kpi_id"`
	EmployeeID  string          `json:"employee_id"`
	Period      string          `json:"period"`
	TargetValue decimal.Decimal `json:"target_value"`
	StartDate   string          `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate     string          `json:"end_date,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// TransitionRequest is the body of POST /api/records/{id}/transition.
// Role and actor come from the X-Actor-Role and X-Actor-ID headers.
type TransitionRequest struct {
	Status      string           `json:"status"`
	ActualValue *decimal.Decimal `json:"actual_value,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// TransitionResponse mirrors the Ok/Err outcome of a transition.
type TransitionResponse struct {
	Status  string     `json:"status"` // "ok" or "error"
	Record  *RecordDTO `json:"record,omitempty"`
	Result  *ResultDTO `json:"result,omitempty"`
	Kind    string     `json:"kind,omitempty"`
	Message string     `json:"message,omitempty"`
}

// =============================================================================
// RESULTS
// =============================================================================

type ResultDTO struct {
	ID              string          `json:"id"`
	KpiRecordID     string          `json:"kpi_record_id"`
	KpiID           string          `json:"kpi_id"`
	EmployeeID      string          `json:"employee_id"`
	Period          string          `json:"period"`
	AchievementRate decimal.Decimal `json:"achievement_rate"`
	RewardAmount    decimal.Decimal `json:"reward_amount"`
	PenaltyAmount   decimal.Decimal `json:"penalty_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Grade           string          `json:"grade"`
	MatchedPrograms []string        `json:"matched_programs,omitempty"`
	Status          string          `json:"status"`
	CalculatedAt    string          `json:"calculated_at"`
	IsDeleted       bool            `json:"is_deleted"`
}

type BulkCalculationRequest struct {
	Period      string   `json:"period"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
	KpiIDs      []string `json:"kpi_ids,omitempty"`
	Department  string   `json:"department,omitempty"`
}

type FailureDTO struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

type StatsDTO struct {
	Count              int             `json:"count"`
	TotalReward        decimal.Decimal `json:"total_reward"`
	TotalPenalty       decimal.Decimal `json:"total_penalty"`
	TotalNet           decimal.Decimal `json:"total_net"`
	AverageAchievement decimal.Decimal `json:"average_achievement"`
	Grades             map[string]int  `json:"grades"`
}

type BulkCalculationResponse struct {
	Period    string       `json:"period"`
	Results   []ResultDTO  `json:"results"`
	Failures  []FailureDTO `json:"failures"`
	Skipped   int          `json:"skipped"`
	Cancelled bool         `json:"cancelled"`
	Stats     StatsDTO     `json:"stats"`
}

type DedupResponse struct {
	Scanned     int      `json:"scanned"`
	Duplicated  int      `json:"duplicated"`
	SoftDeleted []string `json:"soft_deleted"`
	NextRunAt   string   `json:"next_run_at,omitempty"` // scheduled pass, if running
	Error       string   `json:"error,omitempty"`       // set when some soft deletes failed
}

// =============================================================================
// RULES, DEFINITIONS, EMPLOYEES
// =============================================================================

type EvaluateRulesRequest struct {
	Conditions []factory.ConditionJSON `json:"conditions"`
	Data       map[string]any          `json:"data"`
}

type EvaluateRulesResponse struct {
	Matched bool `json:"matched"`
}

// DefinitionDTO wraps factory.DefinitionJSON for API responses.
type DefinitionDTO = factory.DefinitionJSON

type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRecordDTO(rec kpi.Record) RecordDTO {
	dto := RecordDTO{
		ID:          rec.ID,
		KpiID:       rec.KpiID,
		EmployeeID:  rec.EmployeeID,
		Period:      rec.Period,
		TargetValue: rec.TargetValue,
		ActualValue: rec.ActualValue,
		Status:      string(rec.Status),
		StartDate:   formatDate(rec.StartDate),
		EndDate:     formatDate(rec.EndDate),
		Notes:       rec.Notes,
		History:     make([]HistoryEntryDTO, len(rec.History)),

		AllowedTransitions: []string{},
	}
	if p, err := kpi.ParsePeriod(rec.Period); err == nil {
		dto.PeriodType = string(p.Type())
	}
	for _, st := range kpi.AllowedTargets(rec.Status) {
		dto.AllowedTransitions = append(dto.AllowedTransitions, string(st))
	}
	for i, h := range rec.History {
		dto.History[i] = HistoryEntryDTO{
			Status:    string(h.Status),
			ChangedAt: h.ChangedAt.Format(time.RFC3339),
			ChangedBy: h.ChangedBy,
			Comment:   h.Comment,
		}
	}
	return dto
}

func toResultDTO(r kpi.Result) ResultDTO {
	return ResultDTO{
		ID:              r.ID,
		KpiRecordID:     r.KpiRecordID,
		KpiID:           r.KpiID,
		EmployeeID:      r.EmployeeID,
		Period:          r.Period,
		AchievementRate: r.AchievementRate,
		RewardAmount:    r.RewardAmount,
		PenaltyAmount:   r.PenaltyAmount,
		NetAmount:       r.NetAmount,
		Grade:           string(r.Grade),
		MatchedPrograms: r.MatchedPrograms,
		Status:          string(r.Status),
		CalculatedAt:    r.CalculatedAt.Format(time.RFC3339),
		IsDeleted:       r.IsDeleted,
	}
}

func toResultDTOs(results []kpi.Result) []ResultDTO {
	dtos := make([]ResultDTO, len(results))
	for i, r := range results {
		dtos[i] = toResultDTO(r)
	}
	return dtos
}

func toStatsDTO(s kpi.BatchStats) StatsDTO {
	grades := make(map[string]int, len(s.Grades))
	for g, n := range s.Grades {
		grades[string(g)] = n
	}
	return StatsDTO{
		Count:              s.Count,
		TotalReward:        s.TotalReward,
		TotalPenalty:       s.TotalPenalty,
		TotalNet:           s.TotalNet,
		AverageAchievement: s.AverageAchievement,
		Grades:             grades,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
