package core

import (
	"context"
	"fmt"
	"strconv"

	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

// InspectionCommand records a dimensional inspection decision. The worker
// must hold the unit for inspection.
type InspectionCommand struct {
	UnitID   string
	Worker   string
	Approved bool
}

// InspectionResult reports the decision and the repair routing it caused.
type InspectionResult struct {
	State        machine.InspectionState
	RepairState  machine.RepairState
	RepairCycles int
	Blocked      bool
	Unit         *unitstore.Unit
}

// RecordInspection decides a pending inspection and releases the occupation
// in the same write. A rejection routes the repair machine: the cycle
// counter increments only when the rejection follows a completed repair, and
// reaching the limit locks the unit out as BLOCKED.
func (s *Service) RecordInspection(ctx context.Context, cmd InspectionCommand) (*InspectionResult, error) {
	if _, err := s.acquire(ctx, cmd.UnitID, cmd.Worker, machine.OpInspection); err != nil {
		s.metrics.Operations.WithLabelValues("inspection", "conflict").Inc()
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
		s.metrics.Operations.WithLabelValues("inspection", "rejected").Inc()
		return nil, err
	}
	if unit.Occupied.Operation != machine.OpInspection {
		return nil, Failure{
			Code:       CodeInvalidArgument,
			Detail:     fmt.Sprintf("unit %s is occupied for %s, not inspection", unit.ID, unit.Occupied.Operation),
			HTTPStatus: 400,
		}
	}

	target := machine.InspectionRejected
	if cmd.Approved {
		target = machine.InspectionApproved
	}
	if err := machine.CheckInspection(unit.Inspection.State, target); err != nil {
		s.metrics.Operations.WithLabelValues("inspection", "rejected").Inc()
		return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
	}

	now := s.clock.Now()
	unit.Inspection.State = target
	unit.Inspection.Worker = cmd.Worker
	unit.Inspection.DecidedAt = now

	blockedNow := false
	if cmd.Approved {
		// Approval ends the repair loop: the counter and the repair
		// machine reset so the unit's history starts clean.
		unit.Repair = unitstore.Repair{}
		unit.RepairCycles = 0
	}
	if !cmd.Approved {
		// A rejection right after a completed repair burns one cycle.
		// First-time rejections do not: the unit has not looped yet.
		if unit.Repair.State == machine.RepairPending {
			unit.RepairCycles++
		}
		if err := machine.CheckRepair(unit.Repair.State, machine.RepairRejected); err != nil {
			return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
		}
		unit.Repair.State = machine.RepairRejected
		if machine.RejectionTarget(unit.RepairCycles, s.repairLimit) == machine.RepairBlocked {
			if err := machine.CheckRepair(machine.RepairRejected, machine.RepairBlocked); err != nil {
				return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
			}
			unit.Repair.State = machine.RepairBlocked
			unit.Blocked = true
			blockedNow = true
		}
	}

	unit.Occupied = nil
	if err := s.writeUnit(ctx, unit); err != nil {
		s.metrics.Operations.WithLabelValues("inspection", "conflict").Inc()
		return nil, err
	}
	s.release(ctx, cmd.UnitID, cmd.Worker)
	released = true

	s.metrics.Operations.WithLabelValues("inspection", "ok").Inc()
	s.emit(ctx, bus.EventInspectionResult, unit.ID, cmd.Worker, string(target))
	if blockedNow {
		s.emit(ctx, bus.EventRepairBlocked, unit.ID, cmd.Worker, strconv.Itoa(unit.RepairCycles))
		s.audit(ctx, unit.ID, AuditRepairBlocked, cmd.Worker, map[string]string{
			"repair_cycles": strconv.Itoa(unit.RepairCycles),
			"limit":         strconv.Itoa(s.repairLimit),
		})
	}
	s.audit(ctx, unit.ID, AuditInspectionResult, cmd.Worker, map[string]string{
		"result":        string(target),
		"repair_cycles": strconv.Itoa(unit.RepairCycles),
	})
	s.log(ctx).Info("inspection.recorded",
		"unit", unit.ID,
		"worker", cmd.Worker,
		"result", string(target),
		"repair_cycles", unit.RepairCycles,
		"blocked", unit.Blocked,
		"version", unit.Version,
	)
	return &InspectionResult{
		State:        target,
		RepairState:  unit.Repair.State,
		RepairCycles: unit.RepairCycles,
		Blocked:      unit.Blocked,
		Unit:         unit,
	}, nil
}

// RepairCommand starts or completes a repair round. The worker must hold
// the unit for repair.
type RepairCommand struct {
	UnitID string
	Worker string
}

// RepairResult reports the unit after the repair transition.
type RepairResult struct {
	RepairState machine.RepairState
	Unit        *unitstore.Unit
}

// StartRepair moves a rejected unit into active repair. The occupation
// stays: the worker keeps the unit until CompleteRepair or PAUSE.
func (s *Service) StartRepair(ctx context.Context, cmd RepairCommand) (*RepairResult, error) {
	return s.repairTransition(ctx, cmd, machine.RepairActive)
}

// CompleteRepair finishes the active repair, re-arms the inspection machine
// and releases the occupation.
func (s *Service) CompleteRepair(ctx context.Context, cmd RepairCommand) (*RepairResult, error) {
	return s.repairTransition(ctx, cmd, machine.RepairPending)
}

func (s *Service) repairTransition(ctx context.Context, cmd RepairCommand, target machine.RepairState) (*RepairResult, error) {
	if _, err := s.acquire(ctx, cmd.UnitID, cmd.Worker, machine.OpRepair); err != nil {
		s.metrics.Operations.WithLabelValues("repair", "conflict").Inc()
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
		s.metrics.Operations.WithLabelValues("repair", "rejected").Inc()
		return nil, err
	}
	if unit.Occupied.Operation != machine.OpRepair {
		return nil, Failure{
			Code:       CodeInvalidArgument,
			Detail:     fmt.Sprintf("unit %s is occupied for %s, not repair", unit.ID, unit.Occupied.Operation),
			HTTPStatus: 400,
		}
	}
	if err := machine.CheckRepair(unit.Repair.State, target); err != nil {
		s.metrics.Operations.WithLabelValues("repair", "rejected").Inc()
		return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
	}

	now := s.clock.Now()
	unit.Repair.State = target
	unit.Repair.Worker = cmd.Worker
	event := bus.EventRepairStarted
	kind := AuditRepairStarted
	switch target {
	case machine.RepairActive:
		unit.Repair.StartedAt = now
	case machine.RepairPending:
		// Repair done: back to the inspection queue and off the worker's
		// hands.
		if err := machine.CheckInspection(unit.Inspection.State, machine.InspectionPending); err != nil {
			return nil, Failure{Code: CodeInvalidTransition, Detail: err.Error(), HTTPStatus: 409}
		}
		unit.Inspection.State = machine.InspectionPending
		unit.Occupied = nil
		event = bus.EventRepairCompleted
		kind = AuditRepairCompleted
	}
	if err := s.writeUnit(ctx, unit); err != nil {
		s.metrics.Operations.WithLabelValues("repair", "conflict").Inc()
		return nil, err
	}
	s.release(ctx, cmd.UnitID, cmd.Worker)
	released = true

	s.metrics.Operations.WithLabelValues("repair", "ok").Inc()
	s.emit(ctx, event, unit.ID, cmd.Worker, string(target))
	s.audit(ctx, unit.ID, kind, cmd.Worker, map[string]string{
		"repair_state":  string(target),
		"repair_cycles": strconv.Itoa(unit.RepairCycles),
	})
	s.log(ctx).Info("repair.transition",
		"unit", unit.ID,
		"worker", cmd.Worker,
		"repair_state", string(target),
		"version", unit.Version,
	)
	return &RepairResult{RepairState: target, Unit: unit}, nil
}
