// Package retry wraps a unitstore.Store with bounded backoff for transient
// failures. Version conflicts and missing units are surfaced immediately;
// only errors marked transient by the adapter are retried.
package retry

import (
	"context"
	"errors"
	"time"

	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/pslog"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Wrap returns a store that retries transient errors according to cfg.
func Wrap(inner unitstore.Store, logger pslog.Logger, clk clock.Clock, cfg Config) unitstore.Store {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &store{inner: inner, logger: logger, clock: clk, cfg: cfg}
}

type store struct {
	inner  unitstore.Store
	logger pslog.Logger
	clock  clock.Clock
	cfg    Config
}

func (s *store) ReadUnit(ctx context.Context, id string) (*unitstore.Unit, error) {
	var unit *unitstore.Unit
	err := s.withRetry(ctx, "read_unit", id, func(ctx context.Context) error {
		var err error
		unit, err = s.inner.ReadUnit(ctx, id)
		return err
	})
	return unit, err
}

func (s *store) WriteUnit(ctx context.Context, unit *unitstore.Unit, expectedVersion int64) error {
	return s.withRetry(ctx, "write_unit", unit.ID, func(ctx context.Context) error {
		return s.inner.WriteUnit(ctx, unit, expectedVersion)
	})
}

func (s *store) FindUnitByKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.withRetry(ctx, "find_unit", key, func(ctx context.Context) error {
		var err error
		id, err = s.inner.FindUnitByKey(ctx, key)
		return err
	})
	return id, err
}

func (s *store) ListUnits(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withRetry(ctx, "list_units", "", func(ctx context.Context) error {
		var err error
		ids, err = s.inner.ListUnits(ctx)
		return err
	})
	return ids, err
}

func (s *store) AppendAudit(ctx context.Context, rec unitstore.AuditRecord) error {
	return s.withRetry(ctx, "append_audit", rec.UnitID, func(ctx context.Context) error {
		return s.inner.AppendAudit(ctx, rec)
	})
}

func (s *store) Close() error { return s.inner.Close() }

func (s *store) withRetry(ctx context.Context, op, key string, fn func(context.Context) error) error {
	delay := s.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !unitstore.IsTransient(err) {
			return err
		}
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}
		s.logger.Warn("store.retry",
			"op", op,
			"key", key,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
		delay = time.Duration(float64(delay) * s.cfg.Multiplier)
		if delay > s.cfg.MaxDelay {
			delay = s.cfg.MaxDelay
		}
	}
	return lastErr
}
