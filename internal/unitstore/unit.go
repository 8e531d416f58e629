package unitstore

import (
	"time"

	"pkt.systems/occupd/internal/machine"
)

// SubUnitKind tags whether a sub-unit needs assembly only or both assembly
// and weld.
type SubUnitKind string

const (
	KindAssemblyOnly SubUnitKind = "assembly"
	KindDual         SubUnitKind = "assembly+weld"
)

// Completion records who finished an operation on a sub-unit and when. The
// zero value means not done. Invariant: At set implies Worker set.
type Completion struct {
	Worker string    `json:"worker,omitempty"`
	At     time.Time `json:"at,omitzero"`
}

// Done reports whether the completion has been stamped.
func (c Completion) Done() bool {
	return !c.At.IsZero()
}

// SubUnit is an independently trackable component of a unit, typically a
// weld union.
type SubUnit struct {
	ID       string      `json:"id"`
	Kind     SubUnitKind `json:"kind"`
	Assembly Completion  `json:"assembly,omitzero"`
	Weld     Completion  `json:"weld,omitzero"`
}

// Requires reports whether the sub-unit needs the given operation.
func (s SubUnit) Requires(op machine.Operation) bool {
	switch op {
	case machine.OpAssembly:
		return true
	case machine.OpWeld:
		return s.Kind == KindDual
	}
	return false
}

// CompletionFor returns the completion record for op.
func (s SubUnit) CompletionFor(op machine.Operation) Completion {
	if op == machine.OpWeld {
		return s.Weld
	}
	return s.Assembly
}

// Progress is the unit-level marker for an assembly or weld operation.
type Progress struct {
	State       machine.OpState `json:"state"`
	Worker      string          `json:"worker,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// Inspection is the unit-level dimensional inspection record.
type Inspection struct {
	State     machine.InspectionState `json:"state,omitempty"`
	Worker    string                  `json:"worker,omitempty"`
	DecidedAt time.Time               `json:"decided_at,omitzero"`
}

// Repair is the unit-level repair-loop record.
type Repair struct {
	State     machine.RepairState `json:"state,omitempty"`
	Worker    string              `json:"worker,omitempty"`
	StartedAt time.Time           `json:"started_at,omitzero"`
}

// Occupation marks a unit as actively claimed by one worker. Holder and
// Since are both present or the occupation does not exist at all.
type Occupation struct {
	Holder    string            `json:"holder"`
	Operation machine.Operation `json:"operation"`
	Since     time.Time         `json:"since"`
}

// Unit is a tracked physical work item (a pipe spool).
type Unit struct {
	ID           string      `json:"id"`
	Key          string      `json:"key,omitempty"`
	Assembly     Progress    `json:"assembly"`
	Weld         Progress    `json:"weld"`
	Inspection   Inspection  `json:"inspection,omitzero"`
	Repair       Repair      `json:"repair,omitzero"`
	Occupied     *Occupation `json:"occupied,omitempty"`
	RepairCycles int         `json:"repair_cycles,omitempty"`
	Blocked      bool        `json:"blocked,omitempty"`
	Version      int64       `json:"version"`
	SubUnits     []SubUnit   `json:"sub_units,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	clone := *u
	if u.Occupied != nil {
		occ := *u.Occupied
		clone.Occupied = &occ
	}
	if len(u.SubUnits) > 0 {
		clone.SubUnits = append([]SubUnit(nil), u.SubUnits...)
	}
	return &clone
}

// Tracked reports whether the unit tracks work at sub-unit granularity.
func (u *Unit) Tracked() bool {
	return len(u.SubUnits) > 0
}

// SubUnit returns the sub-unit with the given id.
func (u *Unit) SubUnit(id string) (*SubUnit, bool) {
	for i := range u.SubUnits {
		if u.SubUnits[i].ID == id {
			return &u.SubUnits[i], true
		}
	}
	return nil, false
}

// RequiredCount returns how many sub-units need op. Assembly-only sub-units
// do not count toward the weld denominator.
func (u *Unit) RequiredCount(op machine.Operation) int {
	n := 0
	for _, s := range u.SubUnits {
		if s.Requires(op) {
			n++
		}
	}
	return n
}

// CompleteCount returns how many sub-units requiring op already carry a
// completion timestamp for it.
func (u *Unit) CompleteCount(op machine.Operation) int {
	n := 0
	for _, s := range u.SubUnits {
		if s.Requires(op) && s.CompletionFor(op).Done() {
			n++
		}
	}
	return n
}

// OperationComplete reports whether op is unit-complete: for tracked units,
// every sub-unit requiring op has its timestamp; otherwise the unit-level
// marker decides.
func (u *Unit) OperationComplete(op machine.Operation) bool {
	if u.Tracked() {
		required := u.RequiredCount(op)
		if required == 0 && op == machine.OpWeld {
			// Nothing to weld on an assembly-only spool.
			return true
		}
		return u.CompleteCount(op) == required
	}
	switch op {
	case machine.OpAssembly:
		return u.Assembly.State == machine.StateComplete
	case machine.OpWeld:
		return u.Weld.State == machine.StateComplete
	}
	return false
}

// InspectionEligible reports whether the whole unit is ready for dimensional
// inspection: every assembly-only sub-unit assembly-complete AND every dual
// sub-unit weld-complete. Untracked units fall back to the unit-level
// markers.
func (u *Unit) InspectionEligible() bool {
	if !u.Tracked() {
		return u.Assembly.State == machine.StateComplete && u.Weld.State == machine.StateComplete
	}
	for _, s := range u.SubUnits {
		switch s.Kind {
		case KindAssemblyOnly:
			if !s.Assembly.Done() {
				return false
			}
		case KindDual:
			if !s.Weld.Done() {
				return false
			}
		}
	}
	return true
}

// ProgressFor returns a pointer to the unit-level marker for op.
func (u *Unit) ProgressFor(op machine.Operation) *Progress {
	if op == machine.OpWeld {
		return &u.Weld
	}
	return &u.Assembly
}
