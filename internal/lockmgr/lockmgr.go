// Package lockmgr provides the distributed lock manager guaranteeing mutual
// exclusion of concurrent claims on the same unit. A lock spans one
// request-response cycle, not a worker's whole task; the TTL is only a
// backstop so a crashed holder cannot wedge a unit forever.
package lockmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/uuidv7"
	"pkt.systems/pslog"
)

// Lock is a transient exclusive claim on one unit.
type Lock struct {
	UnitID     string            `json:"unit_id"`
	Holder     string            `json:"holder"`
	Operation  machine.Operation `json:"operation"`
	Token      string            `json:"token"`
	AcquiredAt time.Time         `json:"acquired_at"`
}

// Conflict reports that the unit is locked by someone else. It is surfaced,
// never auto-retried.
type Conflict struct {
	UnitID    string
	Holder    string
	Operation machine.Operation
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("unit %s locked by %s (%s)", c.UnitID, c.Holder, c.Operation)
}

// Manager hands out per-unit exclusive locks backed by a KV store.
type Manager struct {
	kv     KV
	clock  clock.Clock
	ttl    time.Duration
	logger pslog.Logger
}

// Config configures a Manager.
type Config struct {
	KV     KV
	Clock  clock.Clock
	TTL    time.Duration
	Logger pslog.Logger
}

// New builds the lock manager. TTL defaults to 30 seconds.
func New(cfg Config) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Manager{kv: cfg.KV, clock: clk, ttl: ttl, logger: logger}
}

func lockKey(unitID string) string {
	return "occupation/" + unitID
}

// Acquire claims the unit. Acquisition never blocks or queues: a held lock
// returns *Conflict immediately. Backing-store unavailability fails closed.
func (m *Manager) Acquire(ctx context.Context, unitID, holder string, op machine.Operation) (*Lock, error) {
	lock := &Lock{
		UnitID:     unitID,
		Holder:     holder,
		Operation:  op,
		Token:      uuidv7.NewString(),
		AcquiredAt: m.clock.Now(),
	}
	value, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("encode lock: %w", err)
	}
	ok, current, err := m.kv.SetIfAbsent(ctx, lockKey(unitID), value, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	if !ok {
		conflict := &Conflict{UnitID: unitID}
		var existing Lock
		if err := json.Unmarshal(current, &existing); err == nil {
			conflict.Holder = existing.Holder
			conflict.Operation = existing.Operation
		}
		m.logger.Debug("lock.conflict",
			"unit", unitID,
			"requested_by", holder,
			"held_by", conflict.Holder,
		)
		return nil, conflict
	}
	return lock, nil
}

// Release drops the unit lock. Releasing a lock you do not hold, or one that
// already expired, is a no-op.
func (m *Manager) Release(ctx context.Context, unitID, holder string) error {
	value, ok, err := m.kv.Get(ctx, lockKey(unitID))
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	if !ok {
		return nil
	}
	var existing Lock
	if err := json.Unmarshal(value, &existing); err == nil && existing.Holder != holder {
		m.logger.Debug("lock.release.not_holder",
			"unit", unitID,
			"requested_by", holder,
			"held_by", existing.Holder,
		)
		return nil
	}
	if err := m.kv.Delete(ctx, lockKey(unitID)); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	return nil
}

// Holder reports who currently holds the unit lock, if anyone.
func (m *Manager) Holder(ctx context.Context, unitID string) (*Lock, error) {
	value, ok, err := m.kv.Get(ctx, lockKey(unitID))
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var lock Lock
	if err := json.Unmarshal(value, &lock); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}
	return &lock, nil
}
