/*
errors.go - Error taxonomy for the KPI core

ERROR CATEGORIES:
  1. Validation errors - State machine rejections (TransitionError)
  2. Configuration errors - Missing definition or employee for a record
  3. Persistence errors - Surfaced unchanged from the ports, never retried here

  Arithmetic edge cases (target <= 0) are not errors: they yield an
  achievement rate of zero.

USAGE:
    if errors.Is(err, kpi.ErrIllegalTransition) { ... }

    var te *kpi.TransitionError
    if errors.As(err, &te) {
        // te.Message is the user-facing rule that was violated
    }
*/
package kpi

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidState       = errors.New("invalid state")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrRoleNotPermitted   = errors.New("role not permitted")
	ErrMissingActualValue = errors.New("missing required actual value")

	ErrRecordNotFound     = errors.New("kpi record not found")
	ErrDefinitionNotFound = errors.New("kpi definition not found")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrResultNotFound     = errors.New("calculation result not found")

	// ErrRecordNotApproved is returned when calculation is requested for a
	// record that has not reached the approved state.
	ErrRecordNotApproved = errors.New("kpi record is not approved")

	ErrInvalidResultTransition = errors.New("invalid result status change")

	// ErrConcurrentUpdate is returned by SaveRecord when the record was
	// changed after the caller read it. Reload and retry.
	ErrConcurrentUpdate = errors.New("kpi record was modified concurrently")

	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidRecord    = errors.New("invalid kpi record")
)

// =============================================================================
// TRANSITION ERROR
// =============================================================================

type ErrorKind string

const (
	KindInvalidState       ErrorKind = "invalid_state"
	KindIllegalTransition  ErrorKind = "illegal_transition"
	KindRoleNotPermitted   ErrorKind = "role_not_permitted"
	KindMissingActualValue ErrorKind = "missing_actual_value"
)

// TransitionError names the specific rule a status change violated.
// Message is phrased for form validation upstream.
type TransitionError struct {
	Kind    ErrorKind
	From    Status
	To      Status
	Role    Role
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TransitionError) Unwrap() error {
	switch e.Kind {
	case KindInvalidState:
		return ErrInvalidState
	case KindIllegalTransition:
		return ErrIllegalTransition
	case KindRoleNotPermitted:
		return ErrRoleNotPermitted
	case KindMissingActualValue:
		return ErrMissingActualValue
	}
	return nil
}

// =============================================================================
// CONFIGURATION ERROR
// =============================================================================

// ConfigurationError reports a record whose definition or employee cannot be
// resolved. Batch runs record it per item; single-record calls return it.
type ConfigurationError struct {
	RecordID string
	Missing  error // ErrDefinitionNotFound or ErrEmployeeNotFound
	Ref      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("record %s: %v (%s)", e.RecordID, e.Missing, e.Ref)
}

func (e *ConfigurationError) Unwrap() error { return e.Missing }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrRoleNotPermitted) ||
		errors.Is(err, ErrMissingActualValue) ||
		errors.Is(err, ErrRecordNotApproved) ||
		errors.Is(err, ErrInvalidResultTransition) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrInvalidRecord)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrResultNotFound)
}
