package sheet

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 1: "B", 19: "T", 25: "Z", 26: "AA", 27: "AB"}
	for idx, want := range cases {
		if got := columnLetter(idx); got != want {
			t.Fatalf("columnLetter(%d) = %q, want %q", idx, got, want)
		}
	}
}

func TestUnitRowRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	unit := &unitstore.Unit{
		ID:  "sp-042",
		Key: "TAG-042",
		Assembly: unitstore.Progress{
			State:       machine.StateComplete,
			Worker:      "ana",
			CompletedAt: at,
		},
		Weld: unitstore.Progress{State: machine.StateInProgress, Worker: "bo"},
		Inspection: unitstore.Inspection{
			State:     machine.InspectionRejected,
			Worker:    "cam",
			DecidedAt: at.Add(time.Hour),
		},
		Repair:       unitstore.Repair{State: machine.RepairRejected},
		Occupied:     &unitstore.Occupation{Holder: "bo", Operation: machine.OpWeld, Since: at.Add(2 * time.Hour)},
		RepairCycles: 2,
		Blocked:      false,
		Version:      17,
	}

	parsed, err := parseUnitRow(unitRow(unit))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ID != unit.ID || parsed.Key != unit.Key {
		t.Fatalf("identity mismatch: %+v", parsed)
	}
	if parsed.Assembly != unit.Assembly || parsed.Weld != unit.Weld {
		t.Fatalf("progress mismatch: %+v vs %+v", parsed.Assembly, unit.Assembly)
	}
	if parsed.Inspection != unit.Inspection || parsed.Repair != unit.Repair {
		t.Fatalf("inspection/repair mismatch")
	}
	if parsed.Occupied == nil || *parsed.Occupied != *unit.Occupied {
		t.Fatalf("occupation mismatch: %+v", parsed.Occupied)
	}
	if parsed.RepairCycles != 2 || parsed.Version != 17 {
		t.Fatalf("counters mismatch: cycles=%d version=%d", parsed.RepairCycles, parsed.Version)
	}
}

func TestParseUnitRowWithoutOccupation(t *testing.T) {
	unit := &unitstore.Unit{ID: "sp-1", Assembly: unitstore.Progress{State: machine.StatePending}, Version: 1}
	parsed, err := parseUnitRow(unitRow(unit))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Occupied != nil {
		t.Fatalf("expected no occupation, got %+v", parsed.Occupied)
	}
}

func TestSubUnitRowRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	sub := unitstore.SubUnit{
		ID:       "w-3",
		Kind:     unitstore.KindDual,
		Assembly: unitstore.Completion{Worker: "ana", At: at},
	}
	parsed, err := parseSubUnitRow(subUnitRow("sp-1", sub))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != sub {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, sub)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(&googleapi.Error{Code: 429}); !unitstore.IsTransient(err) {
		t.Fatal("quota errors must be transient")
	}
	if err := classify(&googleapi.Error{Code: 503}); !unitstore.IsTransient(err) {
		t.Fatal("server errors must be transient")
	}
	if err := classify(&googleapi.Error{Code: 403}); unitstore.IsTransient(err) {
		t.Fatal("permission errors must not be retried")
	}
	if err := classify(errors.New("connection reset")); !unitstore.IsTransient(err) {
		t.Fatal("transport errors must be transient")
	}
}
