package core

import (
	"context"
	"strconv"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

// detectOverride reconciles state that was changed outside the engine,
// typically a supervisor editing the store directly. The external state is
// adopted as the new baseline and the adjustment is audited under
// OverrideActor so the trail shows it was not a worker action.
//
// Detection is read-based: it runs on every fresh load, so an override is
// noticed on the next touch of the unit rather than at edit time. The
// returned bool reports whether the unit was adjusted; callers persist the
// adjustment together with their own write.
func (s *Service) detectOverride(ctx context.Context, unit *unitstore.Unit) bool {
	adjusted := false

	// Blocked flag cleared while the cycle count still sits at or above
	// the limit: somebody unblocked the unit by hand. Adopt it and reset
	// the counter so the unit gets a full set of repair attempts again.
	if !unit.Blocked && unit.RepairCycles >= s.repairLimit {
		before := unit.RepairCycles
		unit.RepairCycles = 0
		if unit.Repair.State == machine.RepairBlocked {
			unit.Repair.State = machine.RepairRejected
		}
		adjusted = true
		s.audit(ctx, unit.ID, AuditOverrideDetected, OverrideActor, map[string]string{
			"field":        "repair_cycles",
			"observed":     strconv.Itoa(before),
			"adopted":      "0",
			"repair_state": string(unit.Repair.State),
		})
		s.log(ctx).Warn("override.detected",
			"unit", unit.ID,
			"field", "repair_cycles",
			"observed", before,
		)
	}

	// Blocked flag raised by hand below the limit is adopted as-is, but
	// the repair machine must agree or later transitions wedge.
	if unit.Blocked && unit.Repair.State != machine.RepairBlocked {
		before := unit.Repair.State
		unit.Repair.State = machine.RepairBlocked
		adjusted = true
		s.audit(ctx, unit.ID, AuditOverrideDetected, OverrideActor, map[string]string{
			"field":    "repair_state",
			"observed": string(before),
			"adopted":  string(machine.RepairBlocked),
		})
		s.log(ctx).Warn("override.detected",
			"unit", unit.ID,
			"field", "repair_state",
			"observed", string(before),
		)
	}

	// Occupation invariant: a holder with no since timestamp, or the
	// reverse, means a partial external edit. Drop the broken occupation
	// rather than guessing the missing half.
	if unit.Occupied != nil && (unit.Occupied.Holder == "" || unit.Occupied.Since.IsZero()) {
		unit.Occupied = nil
		adjusted = true
		s.audit(ctx, unit.ID, AuditOverrideDetected, OverrideActor, map[string]string{
			"field":   "occupation",
			"adopted": "cleared",
		})
		s.log(ctx).Warn("override.detected", "unit", unit.ID, "field", "occupation")
	}

	return adjusted
}
