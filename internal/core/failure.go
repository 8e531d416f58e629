package core

import "fmt"

// Failure captures transport-neutral error details that adapters can map to
// HTTP or other protocols.
type Failure struct {
	Code       string
	Detail     string
	RetryAfter int64 // seconds
	Version    int64
	HTTPStatus int // optional hint for HTTP adapters
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Failure codes. Conflict-class codes mean the caller must reload and decide
// again; they are never auto-retried.
const (
	// CodeOccupied: the unit lock is held by another worker.
	CodeOccupied = "occupied"
	// CodeNotOwner: a non-holder attempted PAUSE/FINISH. Distinct from
	// occupied so clients can tell "someone beat you" from "that unit was
	// never yours".
	CodeNotOwner = "not_owner"
	// CodeVersionConflict: the version token moved under a read-then-write.
	CodeVersionConflict = "version_conflict"
	// CodeStaleSelection: a FINISH selection no longer matches the fresh
	// sub-unit set.
	CodeStaleSelection = "stale_selection"
	// CodePrerequisite: an operation prerequisite is missing (e.g. weld
	// before any assembly completion).
	CodePrerequisite = "prerequisite_missing"
	// CodeDataInconsistent: upstream data is corrupt (selected > total).
	CodeDataInconsistent = "data_inconsistent"
	// CodeBlocked: the unit hit the repair-cycle lockout.
	CodeBlocked = "unit_blocked"
	// CodeInvalidTransition: a state machine refused the edge.
	CodeInvalidTransition = "invalid_transition"
	// CodeNotFound: unknown unit or lookup key.
	CodeNotFound = "not_found"
	// CodeInvalidArgument: malformed operation input.
	CodeInvalidArgument = "invalid_argument"
)
