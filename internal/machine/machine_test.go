package machine

import (
	"errors"
	"testing"
)

func TestCheckProgressHappyPath(t *testing.T) {
	if err := CheckProgress(OpAssembly, StatePending, StateInProgress, ProgressInput{HasHolder: true}); err != nil {
		t.Fatalf("pending -> in_progress with holder: %v", err)
	}
	if err := CheckProgress(OpWeld, StateInProgress, StateComplete, ProgressInput{HasTimestamp: true}); err != nil {
		t.Fatalf("in_progress -> complete with timestamp: %v", err)
	}
}

func TestCheckProgressGuards(t *testing.T) {
	err := CheckProgress(OpAssembly, StatePending, StateInProgress, ProgressInput{})
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %T: %v", err, err)
	}
	if terr.Reason != "no recorded holder" {
		t.Fatalf("unexpected reason %q", terr.Reason)
	}

	err = CheckProgress(OpWeld, StateInProgress, StateComplete, ProgressInput{})
	if !errors.As(err, &terr) || terr.Reason != "no completion timestamp" {
		t.Fatalf("expected timestamp guard failure, got %v", err)
	}
}

func TestCheckProgressNoSkips(t *testing.T) {
	if err := CheckProgress(OpAssembly, StatePending, StateComplete, ProgressInput{HasHolder: true, HasTimestamp: true}); err == nil {
		t.Fatal("pending -> complete must be rejected")
	}
	if err := CheckProgress(OpAssembly, StateComplete, StateInProgress, ProgressInput{HasHolder: true}); err == nil {
		t.Fatal("complete -> in_progress must be rejected")
	}
}

func TestCheckProgressRejectsNonProgressOperations(t *testing.T) {
	if err := CheckProgress(OpInspection, StatePending, StateInProgress, ProgressInput{HasHolder: true}); err == nil {
		t.Fatal("inspection is not a progress operation")
	}
}

func TestCheckInspectionEdges(t *testing.T) {
	cases := []struct {
		from, to InspectionState
		ok       bool
	}{
		{InspectionNone, InspectionPending, true},
		{InspectionPending, InspectionApproved, true},
		{InspectionPending, InspectionRejected, true},
		{InspectionRejected, InspectionPending, true},
		{InspectionApproved, InspectionPending, false},
		{InspectionApproved, InspectionRejected, false},
		{InspectionRejected, InspectionApproved, false},
		{InspectionNone, InspectionApproved, false},
	}
	for _, tc := range cases {
		err := CheckInspection(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s -> %s: expected rejection", tc.from, tc.to)
		}
	}
}

func TestCheckRepairEdges(t *testing.T) {
	cases := []struct {
		from, to RepairState
		ok       bool
	}{
		{RepairNone, RepairRejected, true},
		{RepairRejected, RepairActive, true},
		{RepairActive, RepairPending, true},
		{RepairPending, RepairRejected, true},
		{RepairRejected, RepairBlocked, true},
		{RepairBlocked, RepairRejected, true},
		{RepairNone, RepairActive, false},
		{RepairActive, RepairBlocked, false},
		{RepairBlocked, RepairActive, false},
		{RepairPending, RepairActive, false},
	}
	for _, tc := range cases {
		err := CheckRepair(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s -> %s: expected rejection", tc.from, tc.to)
		}
	}
}

func TestRejectionTarget(t *testing.T) {
	if got := RejectionTarget(2, 3); got != RepairRejected {
		t.Fatalf("below limit: got %s", got)
	}
	if got := RejectionTarget(3, 3); got != RepairBlocked {
		t.Fatalf("at limit: got %s", got)
	}
	if got := RejectionTarget(5, 0); got != RepairRejected {
		t.Fatalf("disabled limit: got %s", got)
	}
}
