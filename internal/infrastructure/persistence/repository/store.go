package repository

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"go.uber.org/zap"
)

// Store is the SQLite-backed correlation store. Atomic creation rides on the
// primary-key conflict clause; per-key serialization uses in-process key
// mutexes. Horizontal scaling across processes would move the lock into the
// database; the contract stays the same.
type Store struct {
	repo   *InstanceRepository
	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewStore creates a SQLite-backed correlation store.
func NewStore(repo *InstanceRepository, logger *zap.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// ResolveOrCreate returns the instance for key, inserting the factory product
// when absent. The insert's conflict clause guarantees at most one creation
// per key even when concurrent first-events race.
func (s *Store) ResolveOrCreate(ctx context.Context, key string, factory func() *entity.WorkflowInstance) (*entity.WorkflowInstance, bool, error) {
	existing, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	inst := factory()
	inserted, err := s.repo.Insert(ctx, inst)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return inst, true, nil
	}

	// Lost the creation race; the winner's row is authoritative
	winner, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, port.ErrNotFound
	}
	return winner, false, nil
}

// Get returns the instance for key, or port.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*entity.WorkflowInstance, error) {
	inst, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, port.ErrNotFound
	}
	return inst, nil
}

// GetByTicket returns the instance tracking ticketRef, or port.ErrNotFound.
func (s *Store) GetByTicket(ctx context.Context, ticketRef string) (*entity.WorkflowInstance, error) {
	inst, err := s.repo.GetByTicketRef(ctx, ticketRef)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, port.ErrNotFound
	}
	return inst, nil
}

// Save persists the instance's current mutations.
func (s *Store) Save(ctx context.Context, inst *entity.WorkflowInstance) error {
	return s.repo.Update(ctx, inst)
}

// ListAwaiting returns instances suspended in AWAITING_APPROVAL since before
// the cutoff.
func (s *Store) ListAwaiting(ctx context.Context, enteredBefore time.Time) ([]*entity.WorkflowInstance, error) {
	return s.repo.ListByStateEnteredBefore(ctx, workflow.StateAwaitingApproval, enteredBefore)
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
