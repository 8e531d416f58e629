// Package machine holds the pure transition tables for the four shop-floor
// operation types. Machines validate their own transitions and return typed
// errors; callers never pre-filter.
package machine

import "fmt"

// Operation identifies one of the four fixed operation types.
type Operation string

const (
	OpAssembly   Operation = "assembly"
	OpWeld       Operation = "weld"
	OpInspection Operation = "inspection"
	OpRepair     Operation = "repair"
)

// Valid reports whether op names a known operation type.
func (op Operation) Valid() bool {
	switch op {
	case OpAssembly, OpWeld, OpInspection, OpRepair:
		return true
	}
	return false
}

// OpState is the progress state of an assembly or weld operation on a unit.
type OpState string

const (
	StatePending    OpState = "pending"
	StateInProgress OpState = "in_progress"
	StateComplete   OpState = "complete"
)

// InspectionState tracks dimensional inspection. The empty state means the
// unit has not yet become eligible for inspection.
type InspectionState string

const (
	InspectionNone     InspectionState = ""
	InspectionPending  InspectionState = "pending"
	InspectionApproved InspectionState = "approved"
	InspectionRejected InspectionState = "rejected"
)

// Terminal reports whether the inspection reached a decision.
func (s InspectionState) Terminal() bool {
	return s == InspectionApproved || s == InspectionRejected
}

// RepairState tracks the repair loop. RepairPending means the repair is done
// and the unit is back in the inspection queue.
type RepairState string

const (
	RepairNone     RepairState = ""
	RepairRejected RepairState = "rejected"
	RepairActive   RepairState = "in_repair"
	RepairPending  RepairState = "pending"
	RepairBlocked  RepairState = "blocked"
)

// TransitionError reports an edge a machine refused.
type TransitionError struct {
	Machine string
	From    string
	To      string
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s -> %s: %s", e.Machine, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Machine, e.From, e.To)
}

type progressEdge struct {
	From OpState
	To   OpState
	// RequiresHolder gates entry into IN_PROGRESS: the unit must be occupied.
	RequiresHolder bool
	// RequiresTimestamp gates entry into COMPLETE.
	RequiresTimestamp bool
}

var progressTable = []progressEdge{
	{From: StatePending, To: StateInProgress, RequiresHolder: true},
	{From: StateInProgress, To: StateComplete, RequiresTimestamp: true},
}

// ProgressInput carries the guard facts for an assembly/weld transition.
type ProgressInput struct {
	HasHolder    bool
	HasTimestamp bool
}

// CheckProgress validates an assembly/weld edge. No state is skipped:
// PENDING -> IN_PROGRESS -> COMPLETE.
func CheckProgress(op Operation, from, to OpState, in ProgressInput) error {
	name := string(op)
	if op != OpAssembly && op != OpWeld {
		return &TransitionError{Machine: name, From: string(from), To: string(to), Reason: "not a progress operation"}
	}
	for _, edge := range progressTable {
		if edge.From != from || edge.To != to {
			continue
		}
		if edge.RequiresHolder && !in.HasHolder {
			return &TransitionError{Machine: name, From: string(from), To: string(to), Reason: "no recorded holder"}
		}
		if edge.RequiresTimestamp && !in.HasTimestamp {
			return &TransitionError{Machine: name, From: string(from), To: string(to), Reason: "no completion timestamp"}
		}
		return nil
	}
	return &TransitionError{Machine: name, From: string(from), To: string(to)}
}

type inspectionEdge struct {
	From InspectionState
	To   InspectionState
}

var inspectionTable = []inspectionEdge{
	{From: InspectionNone, To: InspectionPending},
	{From: InspectionPending, To: InspectionApproved},
	{From: InspectionPending, To: InspectionRejected},
	// Re-inspection: only a completed repair re-arms the machine.
	{From: InspectionRejected, To: InspectionPending},
}

// CheckInspection validates an inspection edge. APPROVED and REJECTED are
// terminal; the REJECTED -> PENDING edge is reserved for repair completion
// and must be driven through the repair machine.
func CheckInspection(from, to InspectionState) error {
	for _, edge := range inspectionTable {
		if edge.From == from && edge.To == to {
			return nil
		}
	}
	return &TransitionError{Machine: "inspection", From: string(from), To: string(to)}
}

type repairEdge struct {
	From RepairState
	To   RepairState
}

var repairTable = []repairEdge{
	{From: RepairNone, To: RepairRejected},
	{From: RepairPending, To: RepairRejected},
	{From: RepairRejected, To: RepairActive},
	{From: RepairActive, To: RepairPending},
	{From: RepairRejected, To: RepairBlocked},
	// BLOCKED is a dead end; only a detected supervisor override resets it.
	{From: RepairBlocked, To: RepairRejected},
}

// CheckRepair validates a repair edge.
func CheckRepair(from, to RepairState) error {
	for _, edge := range repairTable {
		if edge.From == from && edge.To == to {
			return nil
		}
	}
	return &TransitionError{Machine: "repair", From: string(from), To: string(to)}
}

// RejectionTarget decides where a fresh inspection rejection lands: once the
// cycle counter reaches the limit the unit is routed to BLOCKED instead of
// another repair round. cycles is the counter value after the rejection was
// accounted.
func RejectionTarget(cycles, limit int) RepairState {
	if limit > 0 && cycles >= limit {
		return RepairBlocked
	}
	return RepairRejected
}
