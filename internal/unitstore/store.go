// Package unitstore defines the persistence boundary for units and the
// append-only audit log. The durable source of truth is an externally owned
// tabular store with no transactions; adapters map field names to typed
// records once, so everything above this boundary works with structs.
package unitstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested unit or key is missing.
	ErrNotFound = errors.New("unitstore: not found")
	// ErrVersionMismatch indicates a concurrent mutation won the race. The
	// caller must reload; the write was not applied.
	ErrVersionMismatch = errors.New("unitstore: version mismatch")
)

// AuditRecord is one immutable audit log entry. Appends are best-effort and
// never mutate existing rows.
type AuditRecord struct {
	ID      string            `json:"id"`
	UnitID  string            `json:"unit_id"`
	Kind    string            `json:"kind"`
	Worker  string            `json:"worker"`
	At      time.Time         `json:"at"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Store is the persistence adapter consumed by the occupation coordinator.
// WriteUnit batches every field of one transition into a single call; there
// is no multi-unit atomicity.
type Store interface {
	// ReadUnit returns a fresh copy of the unit.
	ReadUnit(ctx context.Context, id string) (*Unit, error)
	// WriteUnit persists the unit if the stored version still equals
	// expectedVersion; otherwise ErrVersionMismatch.
	WriteUnit(ctx context.Context, unit *Unit, expectedVersion int64) error
	// FindUnitByKey resolves an external lookup key (tag number, barcode) to
	// a unit id.
	FindUnitByKey(ctx context.Context, key string) (string, error)
	// ListUnits enumerates known unit ids. Lock-free; may be stale.
	ListUnits(ctx context.Context) ([]string, error)
	// AppendAudit appends one audit row.
	AppendAudit(ctx context.Context, rec AuditRecord) error
	// Close releases adapter resources.
	Close() error
}

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}
