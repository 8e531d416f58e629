package core

import (
	"fmt"
	"testing"
	"time"

	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/lockmgr"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/occupd/internal/unitstore/memory"
)

type testRig struct {
	svc   *Service
	store *memory.Store
	bus   *bus.Memory
	clk   *clock.Manual
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	store := memory.New()
	locks := lockmgr.New(lockmgr.Config{KV: lockmgr.NewMemoryKV(clk), Clock: clk})
	b := bus.NewMemory(nil)
	svc := New(Config{Store: store, Locks: locks, Bus: b, Clock: clk})
	return &testRig{svc: svc, store: store, bus: b, clk: clk}
}

// trackedUnit seeds a unit with assemblyOnly sub-units S1.. and dual
// sub-units D1.. at version 1.
func trackedUnit(id string, assemblyOnly, dual int) *unitstore.Unit {
	unit := &unitstore.Unit{ID: id, Key: "key-" + id, Version: 1}
	for i := 1; i <= assemblyOnly; i++ {
		unit.SubUnits = append(unit.SubUnits, unitstore.SubUnit{
			ID:   fmt.Sprintf("S%d", i),
			Kind: unitstore.KindAssemblyOnly,
		})
	}
	for i := 1; i <= dual; i++ {
		unit.SubUnits = append(unit.SubUnits, unitstore.SubUnit{
			ID:   fmt.Sprintf("D%d", i),
			Kind: unitstore.KindDual,
		})
	}
	return unit
}

func untrackedUnit(id string) *unitstore.Unit {
	return &unitstore.Unit{
		ID:       id,
		Key:      "key-" + id,
		Assembly: unitstore.Progress{State: machine.StatePending},
		Weld:     unitstore.Progress{State: machine.StatePending},
		Version:  1,
	}
}

func failureCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	f, ok := err.(Failure)
	if !ok {
		t.Fatalf("expected Failure, got %T: %v", err, err)
	}
	return f.Code
}

func auditKinds(store *memory.Store) []string {
	var kinds []string
	for _, rec := range store.AuditLog() {
		kinds = append(kinds, rec.Kind)
	}
	return kinds
}

func hasAuditKind(store *memory.Store, kind string) bool {
	for _, rec := range store.AuditLog() {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}
