/*
Package kpi provides the KPI record lifecycle and incentive calculation engine.

PURPOSE:
  This package holds the part of the incentive tool with real invariants:
  the record status state machine, the condition language used by rule
  programs, and the reward/penalty calculator that turns an approved
  measurement into a monetary outcome. Everything here is either pure or
  talks to storage through the narrow ports in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: Closed lifecycle enum for a KPI record
  - Role: Who is asking for a transition (employee or admin)
  - Record: One employee's measurement for one KPI in one period
  - Definition: Static reward/penalty configuration of a KPI
  - Result: The calculated outcome for one record

DESIGN PRINCIPLES:
  1. Closed enums: unknown status strings are configuration errors
  2. Precision: money and rates use decimal.Decimal
  3. Append-only history: a record's status always equals its last history entry
  4. Supersede, never mutate: recomputation soft-deletes the prior result

SEE ALSO:
  - transition.go: Status transition table and validation
  - calculator.go: Reward and penalty computation
  - batch.go: Bulk calculation and deduplication
*/
package kpi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS - Lifecycle of a KPI record
// =============================================================================

type Status string

const (
	StatusNotStarted       Status = "not_started"
	StatusInProgress       Status = "in_progress"
	StatusSubmitted        Status = "submitted"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
)

// AllStatuses lists every recognized status in lifecycle order.
var AllStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusSubmitted,
	StatusAwaitingApproval,
	StatusApproved,
	StatusRejected,
}

func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusSubmitted,
		StatusAwaitingApproval, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave this status.
func (s Status) Terminal() bool { return s == StatusApproved }

// ParseStatus accepts only current status values. Legacy values must be
// normalized at the storage boundary first (see legacy.go).
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &TransitionError{Kind: KindInvalidState, To: st, Message: "unknown status " + s}
	}
	return st, nil
}

// =============================================================================
// ROLE
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool { return r == RoleEmployee || r == RoleAdmin }

// =============================================================================
// RECORD - One measurement period for one employee
// =============================================================================

type HistoryEntry struct {
	Status    Status
	ChangedAt time.Time
	ChangedBy string
	Comment   string
}

type Record struct {
	ID          string
	KpiID       string
	EmployeeID  string
	Period      string // e.g. "2024-Q3"
	TargetValue decimal.Decimal
	ActualValue decimal.Decimal
	Status      Status
	History     []HistoryEntry
	StartDate   time.Time
	EndDate     time.Time
	Notes       string
}

// NewRecord creates a record in not_started with its opening history entry.
func NewRecord(id, kpiID, employeeID, period string, target decimal.Decimal, createdBy string, at time.Time) Record {
	return Record{
		ID:          id,
		KpiID:       kpiID,
		EmployeeID:  employeeID,
		Period:      period,
		TargetValue: target,
		ActualValue: decimal.Zero,
		Status:      StatusNotStarted,
		History: []HistoryEntry{{
			Status:    StatusNotStarted,
			ChangedAt: at,
			ChangedBy: createdBy,
			Comment:   "assigned",
		}},
	}
}

// Clone returns a copy whose history can be appended without aliasing.
func (r Record) Clone() Record {
	r.History = append([]HistoryEntry(nil), r.History...)
	return r
}

// HistoryConsistent reports whether Status matches the last history entry.
func (r Record) HistoryConsistent() bool {
	if len(r.History) == 0 {
		return false
	}
	return r.History[len(r.History)-1].Status == r.Status
}

// CheckSave reports whether r may replace a stored record whose history
// statuses are stored. exists is false for a first save. A replacement must
// keep the stored entries and add at least one; anything else was built from
// a stale read and fails with ErrConcurrentUpdate.
func (r Record) CheckSave(stored []Status, exists bool) error {
	if n := len(r.History); n == 0 || canonicalStatus(r.History[n-1].Status) != canonicalStatus(r.Status) {
		return fmt.Errorf("%w: status %s does not match the last history entry", ErrInvalidRecord, r.Status)
	}
	if !exists {
		return nil
	}
	if len(r.History) <= len(stored) {
		return fmt.Errorf("%w: record %s has %d history entries, stored %d",
			ErrConcurrentUpdate, r.ID, len(r.History), len(stored))
	}
	for i, st := range stored {
		if canonicalStatus(st) != canonicalStatus(r.History[i].Status) {
			return fmt.Errorf("%w: record %s history entry %d is %s, stored %s",
				ErrConcurrentUpdate, r.ID, i, r.History[i].Status, st)
		}
	}
	return nil
}

// =============================================================================
// DEFINITION - Static reward/penalty configuration of a KPI
// =============================================================================

type RewardType string

const (
	RewardNone       RewardType = ""
	RewardFixed      RewardType = "fixed"
	RewardVariable   RewardType = "variable"
	RewardPercentage RewardType = "percentage"
)

type PenaltyType string

const (
	PenaltyNone     PenaltyType = ""
	PenaltyFixed    PenaltyType = "fixed"
	PenaltyVariable PenaltyType = "variable"
)

// Default thresholds applied when a definition leaves them unset.
var (
	DefaultRewardThreshold  = decimal.NewFromInt(80)
	DefaultPenaltyThreshold = decimal.NewFromInt(60)
)

// Definition is owned by configuration management; the core only reads it.
// Nil pointers mean "unset".
type Definition struct {
	ID   string
	Name string
	Unit string

	RewardType      RewardType
	RewardAmount    decimal.Decimal
	RewardThreshold *decimal.Decimal
	MaxReward       *decimal.Decimal

	PenaltyType      PenaltyType
	PenaltyAmount    decimal.Decimal
	PenaltyThreshold *decimal.Decimal
	MaxPenalty       *decimal.Decimal

	Programs []RuleProgram
}

func (d Definition) rewardThreshold() decimal.Decimal {
	if d.RewardThreshold == nil {
		return DefaultRewardThreshold
	}
	return *d.RewardThreshold
}

func (d Definition) penaltyThreshold() decimal.Decimal {
	if d.PenaltyThreshold == nil {
		return DefaultPenaltyThreshold
	}
	return *d.PenaltyThreshold
}

// ProgramKind says whether a matching rule program adds to reward or penalty.
type ProgramKind string

const (
	ProgramReward  ProgramKind = "reward"
	ProgramPenalty ProgramKind = "penalty"
)

// RuleProgram is a condition-gated bonus or deduction attached to a definition.
type RuleProgram struct {
	ID         string
	Name       string
	Kind       ProgramKind
	Conditions []Condition
	Amount     decimal.Decimal
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID         string
	Name       string
	Department string
}

// =============================================================================
// RESULT - Calculated outcome of one record
// =============================================================================

type ResultStatus string

const (
	ResultPending    ResultStatus = "pending"
	ResultCalculated ResultStatus = "calculated"
	ResultApproved   ResultStatus = "approved"
	ResultPaid       ResultStatus = "paid"
)

type Grade string

const (
	GradeExcellent  Grade = "excellent"
	GradeGood       Grade = "good"
	GradeAcceptable Grade = "acceptable"
	GradePoor       Grade = "poor"
)

// Grades lists grades from best to worst.
var Grades = []Grade{GradeExcellent, GradeGood, GradeAcceptable, GradePoor}

type Result struct {
	ID              string
	KpiRecordID     string
	KpiID           string
	EmployeeID      string
	Period          string
	AchievementRate decimal.Decimal
	RewardAmount    decimal.Decimal
	PenaltyAmount   decimal.Decimal
	NetAmount       decimal.Decimal // reward - penalty, may be negative
	Grade           Grade
	MatchedPrograms []string
	Status          ResultStatus
	CalculatedAt    time.Time
	IsDeleted       bool
}

// Active reports whether the result is the live one for its record.
func (r Result) Active() bool { return !r.IsDeleted }
