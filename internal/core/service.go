// Package core implements the occupation coordinator: the TAKE/PAUSE/FINISH
// orchestration, the auto-determination algorithm, the repair cycle tracker
// and the audit/event emission around every transition.
package core

import (
	"context"
	"errors"

	"pkt.systems/occupd/internal/bus"
	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/lockmgr"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/pslog"
)

// DefaultRepairCycleLimit is the number of reject-after-repair loops that
// forces a unit into BLOCKED.
const DefaultRepairCycleLimit = 3

// OverrideActor attributes audit events for externally observed state
// changes that the engine did not produce.
const OverrideActor = "system:override"

// Config wires the coordinator's collaborators.
type Config struct {
	Store            unitstore.Store
	Locks            *lockmgr.Manager
	Bus              bus.Bus
	Logger           pslog.Logger
	Clock            clock.Clock
	Metrics          *Metrics
	RepairCycleLimit int
}

// Service is the occupation coordinator. All mutating operations hold the
// unit-scoped lock from fresh read through durable write; read-only queries
// skip the lock and may observe stale data.
type Service struct {
	store       unitstore.Store
	locks       *lockmgr.Manager
	bus         bus.Bus
	logger      pslog.Logger
	clock       clock.Clock
	metrics     *Metrics
	repairLimit int
}

// New constructs the coordinator with sane defaults.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	limit := cfg.RepairCycleLimit
	if limit <= 0 {
		limit = DefaultRepairCycleLimit
	}
	return &Service{
		store:       cfg.Store,
		locks:       cfg.Locks,
		bus:         cfg.Bus,
		logger:      logger,
		clock:       clk,
		metrics:     metrics,
		repairLimit: limit,
	}
}

// RepairCycleLimit reports the configured lockout threshold.
func (s *Service) RepairCycleLimit() int {
	return s.repairLimit
}

func (s *Service) log(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return s.logger
}

// loadFresh reads the unit from the durable store and runs override
// detection against it. Every mutating path calls this after acquiring the
// unit lock; eligibility and totals are never cached across requests.
func (s *Service) loadFresh(ctx context.Context, unitID string) (*unitstore.Unit, error) {
	unit, err := s.store.ReadUnit(ctx, unitID)
	if err != nil {
		if errors.Is(err, unitstore.ErrNotFound) {
			return nil, Failure{Code: CodeNotFound, Detail: "unit " + unitID + " not found", HTTPStatus: 404}
		}
		return nil, err
	}
	s.detectOverride(ctx, unit)
	return unit, nil
}

// GetUnit returns a fresh read of the unit without taking the lock.
// Dashboards and reconnecting observers snapshot through this.
func (s *Service) GetUnit(ctx context.Context, unitID string) (*unitstore.Unit, error) {
	return s.loadFresh(ctx, unitID)
}

// ListUnits enumerates known unit ids, lock-free.
func (s *Service) ListUnits(ctx context.Context) ([]string, error) {
	return s.store.ListUnits(ctx)
}

// FindUnitByKey resolves an external lookup key to a unit id.
func (s *Service) FindUnitByKey(ctx context.Context, key string) (string, error) {
	id, err := s.store.FindUnitByKey(ctx, key)
	if err != nil {
		if errors.Is(err, unitstore.ErrNotFound) {
			return "", Failure{Code: CodeNotFound, Detail: "no unit for key " + key, HTTPStatus: 404}
		}
		return "", err
	}
	return id, nil
}

// acquire wraps the lock manager, translating conflicts into Failures and
// counting them.
func (s *Service) acquire(ctx context.Context, unitID, worker string, op machine.Operation) (*lockmgr.Lock, error) {
	lock, err := s.locks.Acquire(ctx, unitID, worker, op)
	if err != nil {
		var conflict *lockmgr.Conflict
		if errors.As(err, &conflict) {
			s.metrics.LockConflicts.Inc()
			return nil, Failure{
				Code:       CodeOccupied,
				Detail:     "unit " + unitID + " is occupied by " + conflict.Holder,
				HTTPStatus: 409,
			}
		}
		return nil, err
	}
	return lock, nil
}

// release drops the unit lock, logging instead of failing: the transition
// already committed and the TTL mops up a missed release.
func (s *Service) release(ctx context.Context, unitID, worker string) {
	if err := s.locks.Release(ctx, unitID, worker); err != nil {
		s.log(ctx).Warn("lock.release_failed", "unit", unitID, "error", err)
	}
}

// writeUnit bumps the version token and persists the whole transition in a
// single call, translating CAS losses into version conflicts.
func (s *Service) writeUnit(ctx context.Context, unit *unitstore.Unit) error {
	expected := unit.Version
	unit.Version = expected + 1
	if err := s.store.WriteUnit(ctx, unit, expected); err != nil {
		if errors.Is(err, unitstore.ErrVersionMismatch) {
			return Failure{
				Code:       CodeVersionConflict,
				Detail:     "unit " + unit.ID + " changed concurrently",
				Version:    expected,
				HTTPStatus: 409,
			}
		}
		return err
	}
	return nil
}
