package core

import (
	"testing"
	"time"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

func TestDetermine(t *testing.T) {
	stamp := unitstore.Completion{Worker: "w", At: time.Unix(1, 0)}

	tests := []struct {
		name      string
		unit      *unitstore.Unit
		op        machine.Operation
		selection []string
		outcome   Outcome
		achieved  int
		required  int
		failCode  string
	}{
		{
			name:      "all selected at once",
			unit:      trackedUnit("u", 3, 0),
			op:        machine.OpAssembly,
			selection: []string{"S1", "S2", "S3"},
			outcome:   OutcomeComplete, achieved: 3, required: 3,
		},
		{
			name: "last remaining completes",
			unit: func() *unitstore.Unit {
				u := trackedUnit("u", 3, 0)
				u.SubUnits[0].Assembly = stamp
				u.SubUnits[1].Assembly = stamp
				return u
			}(),
			op:        machine.OpAssembly,
			selection: []string{"S3"},
			outcome:   OutcomeComplete, achieved: 3, required: 3,
		},
		{
			name:      "partial pauses",
			unit:      trackedUnit("u", 4, 0),
			op:        machine.OpAssembly,
			selection: []string{"S1"},
			outcome:   OutcomePause, achieved: 1, required: 4,
		},
		{
			name: "assembly-only excluded from weld denominator",
			unit: func() *unitstore.Unit {
				// 2 assembly-only + 3 dual: weld needs only the 3 dual.
				u := trackedUnit("u", 2, 3)
				for i := range u.SubUnits {
					u.SubUnits[i].Assembly = stamp
				}
				return u
			}(),
			op:        machine.OpWeld,
			selection: []string{"D1", "D2", "D3"},
			outcome:   OutcomeComplete, achieved: 3, required: 3,
		},
		{
			name:      "unknown sub-unit",
			unit:      trackedUnit("u", 2, 0),
			op:        machine.OpAssembly,
			selection: []string{"S9"},
			failCode:  CodeStaleSelection,
		},
		{
			name:      "duplicate selection",
			unit:      trackedUnit("u", 2, 0),
			op:        machine.OpAssembly,
			selection: []string{"S1", "S1"},
			failCode:  CodeStaleSelection,
		},
		{
			name:      "weld on assembly-only sub-unit",
			unit:      trackedUnit("u", 1, 1),
			op:        machine.OpWeld,
			selection: []string{"S1"},
			failCode:  CodeStaleSelection,
		},
		{
			name: "already complete",
			unit: func() *unitstore.Unit {
				u := trackedUnit("u", 2, 0)
				u.SubUnits[0].Assembly = stamp
				return u
			}(),
			op:        machine.OpAssembly,
			selection: []string{"S1"},
			failCode:  CodeStaleSelection,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			det, err := determine(tc.unit, tc.op, tc.selection)
			if tc.failCode != "" {
				if code := failureCode(t, err); code != tc.failCode {
					t.Fatalf("code = %q, want %q", code, tc.failCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("determine: %v", err)
			}
			if det.Outcome != tc.outcome || det.Achieved != tc.achieved || det.Required != tc.required {
				t.Fatalf("got %+v, want %s %d/%d", det, tc.outcome, tc.achieved, tc.required)
			}
		})
	}
}
