package core

import (
	"context"
	"testing"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

func overrideRecords(rig *testRig) []unitstore.AuditRecord {
	var out []unitstore.AuditRecord
	for _, rec := range rig.store.AuditLog() {
		if rec.Kind == AuditOverrideDetected {
			out = append(out, rec)
		}
	}
	return out
}

func TestOverrideUnblockResetsCycles(t *testing.T) {
	rig := newTestRig(t)
	unit := inspectableUnit("u1")
	unit.Repair.State = machine.RepairBlocked
	unit.RepairCycles = DefaultRepairCycleLimit
	// A supervisor cleared the blocked flag by hand; the counter and the
	// repair machine were left behind.
	unit.Blocked = false
	rig.store.Put(unit)

	got, err := rig.svc.GetUnit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.RepairCycles != 0 {
		t.Fatalf("cycles = %d, want reset to 0", got.RepairCycles)
	}
	if got.Repair.State != machine.RepairRejected {
		t.Fatalf("repair state = %q, want rejected", got.Repair.State)
	}

	recs := overrideRecords(rig)
	if len(recs) == 0 {
		t.Fatal("no override audit row")
	}
	if recs[0].Worker != OverrideActor {
		t.Fatalf("override attributed to %q, want %q", recs[0].Worker, OverrideActor)
	}

	// The unit earns a full set of repair attempts again: a repair worker
	// can take it without hitting the lockout.
	takeFor(t, rig, "u1", "rita", machine.OpRepair)
}

func TestOverrideBlockedFlagAlignsRepairMachine(t *testing.T) {
	rig := newTestRig(t)
	unit := inspectableUnit("u1")
	unit.Blocked = true
	unit.Repair.State = machine.RepairRejected
	rig.store.Put(unit)

	got, err := rig.svc.GetUnit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.Repair.State != machine.RepairBlocked {
		t.Fatalf("repair state = %q, want blocked adopted", got.Repair.State)
	}
	if len(overrideRecords(rig)) == 0 {
		t.Fatal("no override audit row")
	}
}

func TestOverrideClearsBrokenOccupation(t *testing.T) {
	rig := newTestRig(t)
	unit := trackedUnit("u1", 2, 0)
	// Holder with no timestamp: a partial external edit.
	unit.Occupied = &unitstore.Occupation{Holder: "anna", Operation: machine.OpAssembly}
	rig.store.Put(unit)

	got, err := rig.svc.GetUnit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.Occupied != nil {
		t.Fatalf("broken occupation kept: %+v", got.Occupied)
	}
	if len(overrideRecords(rig)) == 0 {
		t.Fatal("no override audit row")
	}
}

func TestNoOverrideOnConsistentUnit(t *testing.T) {
	rig := newTestRig(t)
	rig.store.Put(trackedUnit("u1", 2, 0))

	if _, err := rig.svc.GetUnit(context.Background(), "u1"); err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if recs := overrideRecords(rig); len(recs) != 0 {
		t.Fatalf("unexpected override rows: %+v", recs)
	}
}
