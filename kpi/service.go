/*
service.go - Operations exposed to callers

PURPOSE:
  Wires the pure components to the ports:
  1. ApplyTransition: validate, append history, persist, optionally calculate
  2. CalculateForRecord: compute and supersede the active result
  3. EvaluateRules: run the condition language over a caller's data bag
  4. Result payout lifecycle: calculated -> approved -> paid

FLOW ON APPROVAL:
  ApplyTransition(approved) ──▶ SaveRecord ──▶ CalculateForRecord ──▶ Notifier
                                                    │
                              FindActive ──▶ SoftDelete(each prior) ──▶ Insert

  A failed calculation after an approval does not undo the approval. The
  error is logged and the record can be recalculated later.

EXAMPLE:
  svc := kpi.NewService(store)
  out, err := svc.ApplyTransition(ctx, kpi.TransitionCommand{
      RecordID: "rec-1", To: kpi.StatusApproved, Role: kpi.RoleAdmin, ActorID: "hr-7",
  })
*/
package kpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Records     RecordStore
	Definitions DefinitionStore
	Employees   EmployeeDirectory
	Results     ResultStore

	Calculator *Calculator
	Notifier   Notifier // optional
	Logger     *slog.Logger

	// AutoCalculate runs CalculateForRecord when a record is approved.
	AutoCalculate bool

	Now func() time.Time
}

// NewService builds a service over a single backend implementing every port.
func NewService(stores Stores) *Service {
	return &Service{
		Records:       stores,
		Definitions:   stores,
		Employees:     stores,
		Results:       stores,
		Calculator:    NewCalculator(),
		Logger:        slog.Default(),
		AutoCalculate: true,
		Now:           time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

// AssignInput describes a new measurement period for an employee.
type AssignInput struct {
	ID         string // generated when empty
	KpiID      string
	EmployeeID string
	Period     string
	Target     decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
	Notes      string
	AssignedBy string
}

// AssignRecord creates a not_started record after checking that the
// definition and employee exist.
func (s *Service) AssignRecord(ctx context.Context, in AssignInput) (Record, error) {
	if in.Period == "" {
		return Record{}, fmt.Errorf("%w: period is required", ErrInvalidRecord)
	}
	if _, err := s.Definitions.GetDefinition(ctx, in.KpiID); err != nil {
		return Record{}, err
	}
	if _, err := s.Employees.GetEmployee(ctx, in.EmployeeID); err != nil {
		return Record{}, err
	}

	id := in.ID
	if id == "" {
		id = "rec-" + uuid.NewString()
	}
	rec := NewRecord(id, in.KpiID, in.EmployeeID, in.Period, in.Target, in.AssignedBy, s.now())
	rec.StartDate = in.StartDate
	rec.EndDate = in.EndDate
	rec.Notes = in.Notes

	// Free-form labels are allowed; recognized ones supply missing dates and
	// bound explicit ones.
	if p, err := ParsePeriod(in.Period); err == nil {
		for _, d := range []time.Time{rec.StartDate, rec.EndDate} {
			if !d.IsZero() && !p.Contains(d) {
				return Record{}, fmt.Errorf("%w: %s is outside period %s", ErrInvalidRecord, d.Format("2006-01-02"), p.Label)
			}
		}
		if rec.StartDate.IsZero() {
			rec.StartDate = p.Start
		}
		if rec.EndDate.IsZero() {
			rec.EndDate = p.End
		}
	}
	if !rec.StartDate.IsZero() && !rec.EndDate.IsZero() && rec.EndDate.Before(rec.StartDate) {
		return Record{}, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidRecord,
			rec.EndDate.Format("2006-01-02"), rec.StartDate.Format("2006-01-02"))
	}

	if err := s.Records.SaveRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("failed to save record: %w", err)
	}
	return rec, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

type TransitionCommand struct {
	RecordID string
	To       Status
	Role     Role
	ActorID  string
	Actual   *decimal.Decimal // nil when the caller sent no value
	Comment  string
}

type TransitionOutcome struct {
	Record Record
	// Result is set when the transition approved the record and the
	// automatic calculation succeeded.
	Result *Result
}

// ApplyTransition validates and persists a status change. Validation
// failures come back as *TransitionError and leave storage untouched.
func (s *Service) ApplyTransition(ctx context.Context, cmd TransitionCommand) (*TransitionOutcome, error) {
	rec, err := s.Records.GetRecord(ctx, cmd.RecordID)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(rec, TransitionRequest{To: cmd.To, Role: cmd.Role, Actual: cmd.Actual}); err != nil {
		return nil, err
	}

	next := rec.Clone()
	if cmd.Actual != nil {
		next.ActualValue = *cmd.Actual
	}
	next.Status = cmd.To
	next.History = append(next.History, HistoryEntry{
		Status:    cmd.To,
		ChangedAt: s.now(),
		ChangedBy: cmd.ActorID,
		Comment:   cmd.Comment,
	})

	if err := s.Records.SaveRecord(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}

	s.notify(ctx, Notification{
		Type:       EventStatusChanged,
		RecordID:   next.ID,
		EmployeeID: next.EmployeeID,
		Status:     next.Status,
		ActorID:    cmd.ActorID,
	})

	out := &TransitionOutcome{Record: next}
	if next.Status == StatusApproved && s.AutoCalculate {
		res, err := s.calculate(ctx, next)
		if err != nil {
			s.logger().WarnContext(ctx, "calculation after approval failed",
				"record_id", next.ID, "error", err)
		} else {
			out.Result = &res
		}
	}
	return out, nil
}

// =============================================================================
// CALCULATION
// =============================================================================

// CalculateForRecord computes the result for an approved record and makes it
// the single active result for that record.
func (s *Service) CalculateForRecord(ctx context.Context, recordID string) (Result, error) {
	rec, err := s.Records.GetRecord(ctx, recordID)
	if err != nil {
		return Result{}, err
	}
	if rec.Status != StatusApproved {
		return Result{}, fmt.Errorf("%w: record %s is %s", ErrRecordNotApproved, rec.ID, rec.Status)
	}
	return s.calculate(ctx, rec)
}

func (s *Service) calculate(ctx context.Context, rec Record) (Result, error) {
	def, err := s.Definitions.GetDefinition(ctx, rec.KpiID)
	if err != nil {
		return Result{}, configurationError(rec.ID, rec.KpiID, err)
	}
	emp, err := s.Employees.GetEmployee(ctx, rec.EmployeeID)
	if err != nil {
		return Result{}, configurationError(rec.ID, rec.EmployeeID, err)
	}

	res := s.Calculator.Calculate(rec, def, emp)
	res, err = supersede(ctx, s.Results, res)
	if err != nil {
		return Result{}, err
	}

	s.notify(ctx, Notification{
		Type:       EventResultCalculated,
		RecordID:   rec.ID,
		EmployeeID: rec.EmployeeID,
		Status:     rec.Status,
		Result:     &res,
	})
	return res, nil
}

// supersede soft-deletes every active result for the record, then inserts
// the fresh one. Deduplicate still repairs writers that race past this.
func supersede(ctx context.Context, results ResultStore, res Result) (Result, error) {
	var last string
	for {
		prior, err := results.FindActiveByRecordID(ctx, res.KpiRecordID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to look up active result: %w", err)
		}
		if prior == nil {
			break
		}
		if prior.ID == last {
			return Result{}, fmt.Errorf("result %s is still active after soft delete", prior.ID)
		}
		if err := results.SoftDeleteResult(ctx, prior.ID); err != nil {
			return Result{}, fmt.Errorf("failed to supersede result %s: %w", prior.ID, err)
		}
		last = prior.ID
	}
	id, err := results.InsertResult(ctx, res)
	if err != nil {
		return Result{}, fmt.Errorf("failed to insert result: %w", err)
	}
	res.ID = id
	return res, nil
}

// configurationError wraps not-found lookups; other errors pass through.
func configurationError(recordID, ref string, err error) error {
	if errors.Is(err, ErrDefinitionNotFound) || errors.Is(err, ErrEmployeeNotFound) {
		missing := ErrDefinitionNotFound
		if errors.Is(err, ErrEmployeeNotFound) {
			missing = ErrEmployeeNotFound
		}
		return &ConfigurationError{RecordID: recordID, Missing: missing, Ref: ref}
	}
	return err
}

// EvaluateRules runs the condition language over a caller-supplied bag.
func (s *Service) EvaluateRules(conditions []Condition, bag DataBag) bool {
	return EvaluateAll(conditions, bag)
}

// =============================================================================
// RESULT LIFECYCLE
// =============================================================================

var resultTransitions = map[ResultStatus]ResultStatus{
	ResultCalculated: ResultApproved,
	ResultApproved:   ResultPaid,
}

func (s *Service) ApproveResult(ctx context.Context, id string) (Result, error) {
	return s.advanceResult(ctx, id, ResultApproved)
}

func (s *Service) MarkResultPaid(ctx context.Context, id string) (Result, error) {
	return s.advanceResult(ctx, id, ResultPaid)
}

func (s *Service) advanceResult(ctx context.Context, id string, to ResultStatus) (Result, error) {
	res, err := s.Results.GetResult(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if res.IsDeleted {
		return Result{}, fmt.Errorf("%w: result %s was superseded", ErrInvalidResultTransition, id)
	}
	if resultTransitions[res.Status] != to {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidResultTransition, res.Status, to)
	}
	if err := s.Results.SetResultStatus(ctx, id, to); err != nil {
		return Result{}, fmt.Errorf("failed to update result status: %w", err)
	}
	res.Status = to
	return res, nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		s.logger().WarnContext(ctx, "notification failed", "type", n.Type, "record_id", n.RecordID, "error", err)
	}
}
