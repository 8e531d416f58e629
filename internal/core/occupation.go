package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

// TakeCommand claims a unit for one worker and operation.
type TakeCommand struct {
	UnitID    string
	Worker    string
	Operation machine.Operation
}

// TakeResult reports the unit after a successful claim.
type TakeResult struct {
	Unit *unitstore.Unit
}

// Take claims the unit: acquire the lock, re-read, check prerequisites
// against the fresh state, record the occupation and bump the version.
// Prerequisites are evaluated on every call since eligibility can change
// between requests.
func (s *Service) Take(ctx context.Context, cmd TakeCommand) (*TakeResult, error) {
	if strings.TrimSpace(cmd.Worker) == "" {
		return nil, Failure{Code: CodeInvalidArgument, Detail: "worker is required", HTTPStatus: 400}
	}
	if !cmd.Operation.Valid() {
		return nil, Failure{Code: CodeInvalidArgument, Detail: "unknown operation " + string(cmd.Operation), HTTPStatus: 400}
	}
	if _, err := s.acquire(ctx, cmd.UnitID, cmd.Worker, cmd.Operation); err != nil {
		s.metrics.Operations.WithLabelValues("take", "conflict").Inc()
		return nil, err
	}
	released := false
	defer func() {
		if !released {
			s.release(ctx, cmd.UnitID, cmd.Worker)
		}
	}()

	unit, err := s.loadFresh(ctx, cmd.UnitID)
	if err != nil {
		return nil, err
	}
	if unit.Blocked {
		return nil, Failure{
			Code:       CodeBlocked,
			Detail:     "unit " + unit.ID + " is blocked pending supervisor review",
			HTTPStatus: 423,
		}
	}
	if unit.Occupied != nil {
		return nil, Failure{
			Code:       CodeOccupied,
			Detail:     "unit " + unit.ID + " is occupied by " + unit.Occupied.Holder,
			HTTPStatus: 409,
		}
	}
	if err := s.checkTakePrerequisite(unit, cmd.Operation); err != nil {
		s.metrics.Operations.WithLabelValues("take", "rejected").Inc()
		return nil, err
	}

	// Only the occupation is written: progress markers advance when work
	// is recorded at FINISH, so a TAKE followed by PAUSE leaves the unit
	// untouched apart from version and audit trail.
	now := s.clock.Now()
	unit.Occupied = &unitstore.Occupation{Holder: cmd.Worker, Operation: cmd.Operation, Since: now}
	if err := s.writeUnit(ctx, unit); err != nil {
		s.metrics.Operations.WithLabelValues("take", "conflict").Inc()
		return nil, err
	}
	s.release(ctx, cmd.UnitID, cmd.Worker)
	released = true

	s.metrics.Operations.WithLabelValues("take", "ok").Inc()
	s.emit(ctx, bus.EventTake, unit.ID, cmd.Worker, string(cmd.Operation))
	s.audit(ctx, unit.ID, AuditTake, cmd.Worker, map[string]string{"operation": string(cmd.Operation)})
	s.log(ctx).Info("occupation.take",
		"unit", unit.ID,
		"worker", cmd.Worker,
		"operation", string(cmd.Operation),
		"version", unit.Version,
	)
	return &TakeResult{Unit: unit}, nil
}

// checkTakePrerequisite validates per-operation eligibility against fresh
// state. Weld requires at least one assembly completion somewhere on the
// unit; inspection and repair each require their machine to be armed.
func (s *Service) checkTakePrerequisite(unit *unitstore.Unit, op machine.Operation) error {
	switch op {
	case machine.OpAssembly:
		if unit.OperationComplete(machine.OpAssembly) {
			return Failure{Code: CodePrerequisite, Detail: "unit " + unit.ID + ": assembly already complete", HTTPStatus: 409}
		}
	case machine.OpWeld:
		if unit.OperationComplete(machine.OpWeld) {
			return Failure{Code: CodePrerequisite, Detail: "unit " + unit.ID + ": weld already complete", HTTPStatus: 409}
		}
		if !s.weldEligible(unit) {
			return Failure{
				Code:       CodePrerequisite,
				Detail:     "unit " + unit.ID + ": weld requires at least one assembly completion",
				HTTPStatus: 409,
			}
		}
	case machine.OpInspection:
		if unit.Inspection.State != machine.InspectionPending {
			return Failure{
				Code:       CodePrerequisite,
				Detail:     fmt.Sprintf("unit %s: inspection not pending (state %q)", unit.ID, unit.Inspection.State),
				HTTPStatus: 409,
			}
		}
	case machine.OpRepair:
		if unit.Repair.State != machine.RepairRejected {
			return Failure{
				Code:       CodePrerequisite,
				Detail:     fmt.Sprintf("unit %s: no rejected inspection to repair (state %q)", unit.ID, unit.Repair.State),
				HTTPStatus: 409,
			}
		}
	}
	return nil
}

func (s *Service) weldEligible(unit *unitstore.Unit) bool {
	if !unit.Tracked() {
		return unit.Assembly.State == machine.StateComplete
	}
	if unit.Assembly.State == machine.StateComplete {
		return true
	}
	for _, sub := range unit.SubUnits {
		if sub.Assembly.Done() {
			return true
		}
	}
	return false
}

// PauseCommand releases a unit without finishing: the holder walks away and
// progress markers stay exactly as they are.
type PauseCommand struct {
	UnitID string
	Worker string
}

// PauseResult reports the unit after the release.
type PauseResult struct {
	Unit *unitstore.Unit
}

// Pause clears the occupation only. Non-holders get an ownership violation,
// which is distinct from a lock conflict.
func (s *Service) Pause(ctx context.Context, cmd PauseCommand) (*PauseResult, error) {
	if _, err := s.acquire(ctx, cmd.UnitID, cmd.Worker, ""); err != nil {
		s.metrics.Operations.WithLabelValues("pause", "conflict").Inc()
		return nil, err
	}
	released := false
	defer func() {
		if !released {
			s.release(ctx, cmd.UnitID, cmd.Worker)
		}
	}()

	unit, err := s.loadFresh(ctx, cmd.UnitID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHolder(unit, cmd.Worker); err != nil {
		s.metrics.Operations.WithLabelValues("pause", "rejected").Inc()
		return nil, err
	}
	operation := unit.Occupied.Operation
	unit.Occupied = nil
	if err := s.writeUnit(ctx, unit); err != nil {
		s.metrics.Operations.WithLabelValues("pause", "conflict").Inc()
		return nil, err
	}
	s.release(ctx, cmd.UnitID, cmd.Worker)
	released = true

	s.metrics.Operations.WithLabelValues("pause", "ok").Inc()
	s.emit(ctx, bus.EventPause, unit.ID, cmd.Worker, string(operation))
	s.audit(ctx, unit.ID, AuditPause, cmd.Worker, map[string]string{"operation": string(operation)})
	s.log(ctx).Info("occupation.pause",
		"unit", unit.ID,
		"worker", cmd.Worker,
		"version", unit.Version,
	)
	return &PauseResult{Unit: unit}, nil
}

func (s *Service) requireHolder(unit *unitstore.Unit, worker string) error {
	if unit.Occupied == nil {
		return Failure{
			Code:       CodeNotOwner,
			Detail:     "unit " + unit.ID + " is not occupied",
			HTTPStatus: 403,
		}
	}
	if unit.Occupied.Holder != worker {
		return Failure{
			Code:       CodeNotOwner,
			Detail:     "unit " + unit.ID + " is occupied by " + unit.Occupied.Holder + ", not " + worker,
			HTTPStatus: 403,
		}
	}
	return nil
}

// FinishCommand releases a unit with completed work. Selection names the
// sub-units done this session; CompleteUnit stamps untracked units whole.
// An empty FinishCommand (no selection, no CompleteUnit) is a valid release
// that writes no completion data.
type FinishCommand struct {
	UnitID       string
	Worker       string
	Selection    []string
	CompleteUnit bool
}

// FinishResult reports the auto-determination verdict.
type FinishResult struct {
	Outcome           Outcome
	Achieved          int
	Required          int
	InspectionPending bool
	Unit              *unitstore.Unit
}

// Finish validates the selection against a freshly re-read sub-unit set,
// stamps completions, runs auto-determination, fires the inspection trigger
// when both operations clear, and releases the occupation. All field writes
// for the transition land in one store call.
func (s *Service) Finish(ctx context.Context, cmd FinishCommand) (*FinishResult, error) {
	if _, err := s.acquire(ctx, cmd.UnitID, cmd.Worker, ""); err != nil {
		s.metrics.Operations.WithLabelValues("finish", "conflict").Inc()
		return nil, err
	}
	released := false
	defer func() {
		if !released {
			s.release(ctx, cmd.UnitID, cmd.Worker)
		}
	}()

	unit, err := s.loadFresh(ctx, cmd.UnitID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHolder(unit, cmd.Worker); err != nil {
		s.metrics.Operations.WithLabelValues("finish", "rejected").Inc()
		return nil, err
	}
	operation := unit.Occupied.Operation

	// Release without work: clear the occupation, stamp nothing.
	if len(cmd.Selection) == 0 && !cmd.CompleteUnit {
		unit.Occupied = nil
		if err := s.writeUnit(ctx, unit); err != nil {
			s.metrics.Operations.WithLabelValues("finish", "conflict").Inc()
			return nil, err
		}
		s.release(ctx, cmd.UnitID, cmd.Worker)
		released = true
		s.metrics.Operations.WithLabelValues("finish", "released").Inc()
		s.emit(ctx, bus.EventFinish, unit.ID, cmd.Worker, string(OutcomeReleased))
		s.audit(ctx, unit.ID, AuditReleasedWithoutWork, cmd.Worker, map[string]string{"operation": string(operation)})
		return &FinishResult{Outcome: OutcomeReleased, Unit: unit}, nil
	}

	if operation != machine.OpAssembly && operation != machine.OpWeld {
		return nil, Failure{
			Code:       CodeInvalidArgument,
			Detail:     fmt.Sprintf("unit %s is occupied for %s; completion data only applies to assembly and weld", unit.ID, operation),
			HTTPStatus: 400,
		}
	}

	now := s.clock.Now()
	var det Determination
	switch {
	case unit.Tracked():
		if cmd.CompleteUnit {
			return nil, Failure{
				Code:       CodeInvalidArgument,
				Detail:     "unit " + unit.ID + " tracks sub-units; select them instead of completing the unit whole",
				HTTPStatus: 400,
			}
		}
		det, err = determine(unit, operation, cmd.Selection)
		if err != nil {
			s.metrics.Operations.WithLabelValues("finish", "rejected").Inc()
			return nil, err
		}
		for _, id := range cmd.Selection {
			sub, _ := unit.SubUnit(id)
			stamp := unitstore.Completion{Worker: cmd.Worker, At: now}
			if operation == machine.OpWeld {
				sub.Weld = stamp
			} else {
				sub.Assembly = stamp
			}
		}
	default:
		if len(cmd.Selection) > 0 {
			return nil, Failure{
				Code:       CodeStaleSelection,
				Detail:     "unit " + unit.ID + " has no sub-units",
				HTTPStatus: 409,
			}
		}
		det = Determination{Outcome: OutcomeComplete}
	}

	// Advance the unit-level marker edge by edge: recorded work moves
	// PENDING into IN_PROGRESS while the holder is still set, and a
	// COMPLETE verdict takes the final edge with the timestamp in hand.
	marker := unit.ProgressFor(operation)
	if marker.State == "" {
		marker.State = machine.StatePending
	}
	if marker.State == machine.StatePending {
		if err := machine.CheckProgress(operation, machine.StatePending, machine.StateInProgress, machine.ProgressInput{HasHolder: true}); err != nil {
			return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
		}
		marker.State = machine.StateInProgress
		marker.Worker = cmd.Worker
	}
	if det.Outcome == OutcomeComplete {
		if err := machine.CheckProgress(operation, marker.State, machine.StateComplete, machine.ProgressInput{HasTimestamp: true}); err != nil {
			return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
		}
		marker.State = machine.StateComplete
		marker.Worker = cmd.Worker
		marker.CompletedAt = now
	}

	// Inspection trigger: both subsets must clear, checked on the fresh
	// state after stamping.
	inspectionTriggered := false
	if det.Outcome == OutcomeComplete && unit.Inspection.State == machine.InspectionNone && unit.InspectionEligible() {
		if err := machine.CheckInspection(machine.InspectionNone, machine.InspectionPending); err != nil {
			return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
		}
		unit.Inspection.State = machine.InspectionPending
		inspectionTriggered = true
	}

	unit.Occupied = nil
	if err := s.writeUnit(ctx, unit); err != nil {
		s.metrics.Operations.WithLabelValues("finish", "conflict").Inc()
		return nil, err
	}
	s.release(ctx, cmd.UnitID, cmd.Worker)
	released = true

	s.metrics.Operations.WithLabelValues("finish", string(det.Outcome)).Inc()
	detail := fmt.Sprintf("%s:%s %d/%d", operation, det.Outcome, det.Achieved, det.Required)
	s.emit(ctx, bus.EventFinish, unit.ID, cmd.Worker, detail)
	if inspectionTriggered {
		s.emit(ctx, bus.EventStateChange, unit.ID, cmd.Worker, "inspection:pending")
		s.audit(ctx, unit.ID, AuditStateChange, cmd.Worker, map[string]string{"inspection": string(machine.InspectionPending)})
	}
	payload := map[string]string{
		"operation": string(operation),
		"outcome":   string(det.Outcome),
		"achieved":  strconv.Itoa(det.Achieved),
		"required":  strconv.Itoa(det.Required),
	}
	if len(cmd.Selection) > 0 {
		payload["sub_units"] = strings.Join(cmd.Selection, ",")
	}
	s.audit(ctx, unit.ID, AuditFinish, cmd.Worker, payload)
	s.log(ctx).Info("occupation.finish",
		"unit", unit.ID,
		"worker", cmd.Worker,
		"operation", string(operation),
		"outcome", string(det.Outcome),
		"achieved", det.Achieved,
		"required", det.Required,
		"inspection_triggered", inspectionTriggered,
		"version", unit.Version,
	)
	return &FinishResult{
		Outcome:           det.Outcome,
		Achieved:          det.Achieved,
		Required:          det.Required,
		InspectionPending: inspectionTriggered,
		Unit:              unit,
	}, nil
}
