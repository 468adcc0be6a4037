package kpi

import "strings"

// legacyStatuses maps values written by older releases to current statuses.
// Applied once by store implementations when reading, never by the state
// machine.
var legacyStatuses = map[string]Status{
	"pending":          StatusNotStarted,
	"draft":            StatusNotStarted,
	"new":              StatusNotStarted,
	"active":           StatusInProgress,
	"ongoing":          StatusInProgress,
	"in-progress":      StatusInProgress,
	"completed":        StatusAwaitingApproval,
	"pending_approval": StatusAwaitingApproval,
	"done":             StatusApproved,
	"declined":         StatusRejected,
}

// NormalizeStatus returns the current status for a stored value, migrating
// legacy values. Unknown values yield an invalid_state error.
func NormalizeStatus(stored string) (Status, error) {
	if st := Status(stored); st.Valid() {
		return st, nil
	}
	if st, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(stored))]; ok {
		return st, nil
	}
	return ParseStatus(stored)
}

// NormalizeRecord migrates the record status and every history entry.
func NormalizeRecord(rec Record) (Record, error) {
	st, err := NormalizeStatus(string(rec.Status))
	if err != nil {
		return Record{}, err
	}
	out := rec.Clone()
	out.Status = st
	for i := range out.History {
		hs, err := NormalizeStatus(string(out.History[i].Status))
		if err != nil {
			return Record{}, err
		}
		out.History[i].Status = hs
	}
	return out, nil
}

// canonicalStatus migrates st when it is a known value and returns it
// unchanged otherwise.
func canonicalStatus(st Status) Status {
	if n, err := NormalizeStatus(string(st)); err == nil {
		return n
	}
	return st
}
