package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/occupd/internal/clock"
	"pkt.systems/occupd/internal/unitstore"
	"pkt.systems/pslog"
)

type flakyStore struct {
	unitstore.Store
	failures int
	calls    int
	err      error
	unit     *unitstore.Unit
}

func (f *flakyStore) ReadUnit(ctx context.Context, id string) (*unitstore.Unit, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.unit.Clone(), nil
}

func (f *flakyStore) WriteUnit(ctx context.Context, unit *unitstore.Unit, expectedVersion int64) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) Close() error { return nil }

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{
		failures: 2,
		err:      unitstore.NewTransientError(errors.New("rate limited")),
		unit:     &unitstore.Unit{ID: "sp-1", Version: 1},
	}
	clk := clock.NewManual(time.Unix(1700000000, 0))
	wrapped := Wrap(inner, pslog.NoopLogger(), clk, Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := wrapped.ReadUnit(context.Background(), "sp-1")
		done <- err
	}()
	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		clk.Advance(time.Second)
	}
	if err := <-done; err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	transient := unitstore.NewTransientError(errors.New("unavailable"))
	inner := &flakyStore{failures: 10, err: transient, unit: &unitstore.Unit{ID: "sp-1"}}
	clk := clock.NewManual(time.Unix(1700000000, 0))
	wrapped := Wrap(inner, pslog.NoopLogger(), clk, Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	done := make(chan error, 1)
	go func() {
		done <- wrapped.WriteUnit(context.Background(), &unitstore.Unit{ID: "sp-1"}, 0)
	}()
	for i := 0; i < 2; i++ {
		time.Sleep(5 * time.Millisecond)
		clk.Advance(time.Second)
	}
	err := <-done
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryVersionConflicts(t *testing.T) {
	inner := &flakyStore{failures: 10, err: unitstore.ErrVersionMismatch, unit: &unitstore.Unit{ID: "sp-1"}}
	wrapped := Wrap(inner, pslog.NoopLogger(), clock.Real{}, Config{MaxAttempts: 3, BaseDelay: time.Millisecond})

	err := wrapped.WriteUnit(context.Background(), &unitstore.Unit{ID: "sp-1"}, 0)
	if !errors.Is(err, unitstore.ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("version conflicts must not be retried, got %d calls", inner.calls)
	}
}
