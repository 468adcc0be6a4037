/*
transition.go - KPI record status state machine

PURPOSE:
  Decides whether a record may move to a requested status. The decision is
  pure: callers append the history entry and persist the record.

STATE DIAGRAM:
  ┌─────────────┐      ┌─────────────┐      ┌───────────┐
  │ not_started │ ───▶ │ in_progress │ ───▶ │ submitted │ ──┐
  └─────────────┘      └─────────────┘      └───────────┘   │
        │                 ▲      │                          ▼
        │                 │      └──────▶ ┌───────────────────┐    ┌──────────┐
        └─────────────────┼─────────────▶ │ awaiting_approval │──▶ │ approved │
                          │               └───────────────────┘    └──────────┘
                     ┌──────────┐                  │
                     │ rejected │ ◀────────────────┘
                     └──────────┘

RULE ORDER:
  1. Both statuses must be recognized            -> invalid_state
  2. approved is terminal                         -> illegal_transition
  3. Admin fast paths (approve from not_started, reject from anywhere)
  4. Transition table                             -> illegal_transition
  5. Role gating                                  -> role_not_permitted
  6. Content rules on the actual value            -> missing_actual_value
*/
package kpi

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// transitions is the single source of truth for ordinary moves.
var transitions = map[Status][]Status{
	StatusNotStarted:       {StatusInProgress, StatusAwaitingApproval},
	StatusInProgress:       {StatusSubmitted, StatusAwaitingApproval, StatusRejected},
	StatusSubmitted:        {StatusApproved, StatusRejected},
	StatusAwaitingApproval: {StatusApproved, StatusRejected},
	StatusApproved:         {},
	StatusRejected:         {StatusInProgress},
}

// AllowedTargets returns the table's targets for a status.
func AllowedTargets(from Status) []Status {
	return append([]Status(nil), transitions[from]...)
}

// InTable reports whether from -> to is an ordinary transition.
func InTable(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// requiredRole returns the role allowed to request a status, or "" if any
// role may.
func requiredRole(to Status) Role {
	switch to {
	case StatusSubmitted, StatusAwaitingApproval:
		return RoleEmployee
	case StatusApproved, StatusRejected:
		return RoleAdmin
	}
	return ""
}

// TransitionRequest is the input to ValidateTransition.
type TransitionRequest struct {
	To   Status
	Role Role
	// Actual is the value supplied with the request, nil if none was sent.
	Actual *decimal.Decimal
}

// ValidateTransition checks a status change against the table, role rules
// and content rules. It never mutates the record.
func ValidateTransition(rec Record, req TransitionRequest) error {
	from, to, role := rec.Status, req.To, req.Role

	if !from.Valid() {
		return &TransitionError{Kind: KindInvalidState, From: from, To: to, Role: role,
			Message: fmt.Sprintf("current status %q is not recognized", from)}
	}
	if !to.Valid() {
		return &TransitionError{Kind: KindInvalidState, From: from, To: to, Role: role,
			Message: fmt.Sprintf("requested status %q is not recognized", to)}
	}
	if !role.Valid() {
		return &TransitionError{Kind: KindRoleNotPermitted, From: from, To: to, Role: role,
			Message: fmt.Sprintf("role %q is not recognized", role)}
	}
	if from.Terminal() {
		return &TransitionError{Kind: KindIllegalTransition, From: from, To: to, Role: role,
			Message: "approved records cannot change status"}
	}

	actual := effectiveActual(rec, req.Actual)

	// Admin fast paths sit outside the table.
	if role == RoleAdmin {
		if to == StatusRejected {
			return nil
		}
		if from == StatusNotStarted && to == StatusApproved {
			if !actual.IsPositive() {
				return &TransitionError{Kind: KindMissingActualValue, From: from, To: to, Role: role,
					Message: "cannot approve directly without actual value > 0"}
			}
			return nil
		}
	}

	if !InTable(from, to) {
		return &TransitionError{Kind: KindIllegalTransition, From: from, To: to, Role: role,
			Message: fmt.Sprintf("cannot move from %s to %s", from, to)}
	}

	if need := requiredRole(to); need != "" && need != role {
		return &TransitionError{Kind: KindRoleNotPermitted, From: from, To: to, Role: role,
			Message: fmt.Sprintf("only %s may set status %s", need, to)}
	}

	switch {
	case to == StatusSubmitted && !actual.IsPositive():
		return &TransitionError{Kind: KindMissingActualValue, From: from, To: to, Role: role,
			Message: "cannot submit without actual value > 0"}
	case to == StatusAwaitingApproval && !actual.IsPositive():
		return &TransitionError{Kind: KindMissingActualValue, From: from, To: to, Role: role,
			Message: "cannot request approval without actual value > 0"}
	case from == StatusRejected && to == StatusInProgress:
		if req.Actual == nil || !req.Actual.IsPositive() {
			return &TransitionError{Kind: KindMissingActualValue, From: from, To: to, Role: role,
				Message: "update the actual value (> 0) before resuming a rejected record"}
		}
	}
	return nil
}

// effectiveActual prefers the value sent with the request over the stored one.
func effectiveActual(rec Record, supplied *decimal.Decimal) decimal.Decimal {
	if supplied != nil {
		return *supplied
	}
	return rec.ActualValue
}
