package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

func TestWriteUnitEnforcesVersion(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.Put(&unitstore.Unit{ID: "sp-1", Version: 3})

	unit, err := store.ReadUnit(ctx, "sp-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	unit.Version = 4
	if err := store.WriteUnit(ctx, unit, 3); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// A second write based on the stale read must lose.
	unit.Version = 4
	if err := store.WriteUnit(ctx, unit, 3); !errors.Is(err, unitstore.ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestReadUnitReturnsIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.Put(&unitstore.Unit{
		ID:       "sp-1",
		Version:  1,
		SubUnits: []unitstore.SubUnit{{ID: "w-1", Kind: unitstore.KindDual}},
	})

	first, _ := store.ReadUnit(ctx, "sp-1")
	first.SubUnits[0].Weld = unitstore.Completion{Worker: "x", At: time.Now()}
	first.Occupied = &unitstore.Occupation{Holder: "x", Operation: machine.OpWeld, Since: time.Now()}

	second, _ := store.ReadUnit(ctx, "sp-1")
	if second.SubUnits[0].Weld.Done() {
		t.Fatal("mutating a read copy leaked into the store")
	}
	if second.Occupied != nil {
		t.Fatal("occupation leaked into the store")
	}
}

func TestFindUnitByKey(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.Put(&unitstore.Unit{ID: "sp-7", Key: "TAG-7"})

	id, err := store.FindUnitByKey(ctx, "TAG-7")
	if err != nil || id != "sp-7" {
		t.Fatalf("got %q, %v", id, err)
	}
	if _, err := store.FindUnitByKey(ctx, "TAG-8"); !errors.Is(err, unitstore.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAppendAuditAccumulates(t *testing.T) {
	ctx := context.Background()
	store := New()
	for i := 0; i < 3; i++ {
		if err := store.AppendAudit(ctx, unitstore.AuditRecord{UnitID: "sp-1", Kind: "take"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := len(store.AuditLog()); got != 3 {
		t.Fatalf("expected 3 audit rows, got %d", got)
	}
}
