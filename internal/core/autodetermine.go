package core

import (
	"fmt"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

// Outcome is the auto-determination verdict for a FINISH.
type Outcome string

const (
	// OutcomeComplete: every sub-unit requiring the operation now carries a
	// completion timestamp.
	OutcomeComplete Outcome = "complete"
	// OutcomePause: work remains; the unit is released with progress kept.
	OutcomePause Outcome = "pause"
	// OutcomeReleased: empty selection; nothing was stamped.
	OutcomeReleased Outcome = "released"
)

// Determination is the result of the auto-determination pass.
type Determination struct {
	Outcome  Outcome
	Achieved int // sub-units complete after this FINISH
	Required int // fresh total of sub-units requiring the operation
}

// determine validates a FINISH selection against the freshly re-read unit
// and decides COMPLETE vs PAUSE: already_complete + newly_selected ==
// fresh_total_required means COMPLETE. The totals always come from the fresh
// read, never from TAKE time. Assembly-only sub-units are excluded from the
// weld denominator via SubUnit.Requires.
func determine(unit *unitstore.Unit, op machine.Operation, selection []string) (Determination, error) {
	required := unit.RequiredCount(op)
	already := unit.CompleteCount(op)

	seen := make(map[string]struct{}, len(selection))
	for _, id := range selection {
		if _, dup := seen[id]; dup {
			return Determination{}, Failure{
				Code:       CodeStaleSelection,
				Detail:     fmt.Sprintf("sub-unit %s selected twice", id),
				HTTPStatus: 409,
			}
		}
		seen[id] = struct{}{}
		sub, ok := unit.SubUnit(id)
		if !ok {
			return Determination{}, Failure{
				Code:       CodeStaleSelection,
				Detail:     fmt.Sprintf("sub-unit %s no longer exists on unit %s", id, unit.ID),
				HTTPStatus: 409,
			}
		}
		if !sub.Requires(op) {
			return Determination{}, Failure{
				Code:       CodeStaleSelection,
				Detail:     fmt.Sprintf("sub-unit %s does not take %s", id, op),
				HTTPStatus: 409,
			}
		}
		if sub.CompletionFor(op).Done() {
			return Determination{}, Failure{
				Code:       CodeStaleSelection,
				Detail:     fmt.Sprintf("sub-unit %s already %s-complete", id, op),
				HTTPStatus: 409,
			}
		}
	}

	achieved := already + len(selection)
	if achieved > required {
		// Corrupt upstream data; clamping would hide it.
		return Determination{}, Failure{
			Code:       CodeDataInconsistent,
			Detail:     fmt.Sprintf("unit %s: %d complete + %d selected exceeds %d required for %s", unit.ID, already, len(selection), required, op),
			HTTPStatus: 500,
		}
	}
	outcome := OutcomePause
	if achieved == required {
		outcome = OutcomeComplete
	}
	return Determination{Outcome: outcome, Achieved: achieved, Required: required}, nil
}
