// Package memstore is the in-memory correlation store used for demos and
// tests. Production deployments use the SQLite-backed store; both satisfy the
// same contract.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// Store keeps workflow instances in process memory. The map mutex guards only
// map access; per-key serialization of workflow runs uses dedicated key
// mutexes so unrelated workflows never block each other.
type Store struct {
	mu       sync.RWMutex
	byKey    map[string]*entity.WorkflowInstance
	byTicket map[string]string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byKey:    make(map[string]*entity.WorkflowInstance),
		byTicket: make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

// ResolveOrCreate returns the instance for key, creating it via factory when
// absent. The map mutex makes the check-and-insert atomic, so concurrent
// first-events for the same key create exactly one instance.
func (s *Store) ResolveOrCreate(ctx context.Context, key string, factory func() *entity.WorkflowInstance) (*entity.WorkflowInstance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.byKey[key]; ok {
		return inst, false, nil
	}

	inst := factory()
	s.byKey[key] = inst
	if inst.TicketRef != "" {
		s.byTicket[inst.TicketRef] = key
	}
	return inst, true, nil
}

// Get returns the instance for key, or port.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*entity.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.byKey[key]
	if !ok {
		return nil, port.ErrNotFound
	}
	return inst, nil
}

// GetByTicket returns the instance tracking ticketRef, or port.ErrNotFound.
func (s *Store) GetByTicket(ctx context.Context, ticketRef string) (*entity.WorkflowInstance, error) {
	s.mu.RLock()
	key, ok := s.byTicket[ticketRef]
	s.mu.RUnlock()

	if !ok {
		return nil, port.ErrNotFound
	}
	return s.Get(ctx, key)
}

// Save persists mutations. For the in-memory store this only refreshes the
// ticket index; the caller already mutated the shared instance under its lock.
func (s *Store) Save(ctx context.Context, inst *entity.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey[inst.CorrelationKey] = inst
	if inst.TicketRef != "" {
		s.byTicket[inst.TicketRef] = inst.CorrelationKey
	}
	return nil
}

// ListAwaiting returns instances suspended in AWAITING_APPROVAL since before
// the cutoff.
func (s *Store) ListAwaiting(ctx context.Context, enteredBefore time.Time) ([]*entity.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.WorkflowInstance
	for _, inst := range s.byKey {
		if inst.State == workflow.StateAwaitingApproval && inst.StateEnteredAt.Before(enteredBefore) {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Lock acquires the mutex for one correlation key.
func (s *Store) Lock(key string) func() {
	s.lockMu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

var _ port.CorrelationStore = (*Store)(nil)
