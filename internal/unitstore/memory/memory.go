// Package memory implements unitstore.Store in memory; intended for tests
// and local development.
package memory

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/occupd/internal/unitstore"
)

// Store holds units and audit rows behind a mutex. Reads hand out deep
// copies so callers can mutate freely before writing back.
type Store struct {
	mu    sync.RWMutex
	units map[string]*unitstore.Unit
	keys  map[string]string
	audit []unitstore.AuditRecord

	failNext error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		units: make(map[string]*unitstore.Unit),
		keys:  make(map[string]string),
	}
}

// Put seeds or replaces a unit without version checking. Units are created
// externally in production; tests and fixtures use Put.
func (s *Store) Put(unit *unitstore.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unit.ID] = unit.Clone()
	if unit.Key != "" {
		s.keys[unit.Key] = unit.ID
	}
}

// FailNext makes the next store call fail with err, for retry tests.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) takeInjectedFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// ReadUnit returns a fresh copy of the unit.
func (s *Store) ReadUnit(_ context.Context, id string) (*unitstore.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjectedFailure(); err != nil {
		return nil, err
	}
	unit, ok := s.units[id]
	if !ok {
		return nil, unitstore.ErrNotFound
	}
	return unit.Clone(), nil
}

// WriteUnit applies the unit if the stored version matches expectedVersion.
func (s *Store) WriteUnit(_ context.Context, unit *unitstore.Unit, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjectedFailure(); err != nil {
		return err
	}
	current, ok := s.units[unit.ID]
	if !ok {
		return unitstore.ErrNotFound
	}
	if current.Version != expectedVersion {
		return unitstore.ErrVersionMismatch
	}
	s.units[unit.ID] = unit.Clone()
	if unit.Key != "" {
		s.keys[unit.Key] = unit.ID
	}
	return nil
}

// FindUnitByKey resolves an external lookup key to a unit id.
func (s *Store) FindUnitByKey(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	if !ok {
		return "", unitstore.ErrNotFound
	}
	return id, nil
}

// ListUnits enumerates unit ids in stable order.
func (s *Store) ListUnits(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendAudit appends one audit row.
func (s *Store) AppendAudit(_ context.Context, rec unitstore.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjectedFailure(); err != nil {
		return err
	}
	s.audit = append(s.audit, rec)
	return nil
}

// AuditLog returns a copy of the appended audit rows, oldest first.
func (s *Store) AuditLog() []unitstore.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]unitstore.AuditRecord(nil), s.audit...)
}

// Close satisfies unitstore.Store.
func (s *Store) Close() error { return nil }

var _ unitstore.Store = (*Store)(nil)
