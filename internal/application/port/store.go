package port

import (
	"context"
	"time"

	"github.com/garyjia/access-approval/internal/domain/entity"
)

// CorrelationStore maps correlation keys to workflow instances. It is the only
// shared mutable state in the engine; all access to an instance happens under
// that key's lock.
type CorrelationStore interface {
	// ResolveOrCreate returns the instance for key, atomically constructing it
	// via factory when absent. created reports whether factory ran. At most one
	// instance is ever created per key, even under concurrent first-events.
	ResolveOrCreate(ctx context.Context, key string, factory func() *entity.WorkflowInstance) (inst *entity.WorkflowInstance, created bool, err error)

	// Get returns the instance for key, or ErrNotFound
	Get(ctx context.Context, key string) (*entity.WorkflowInstance, error)

	// GetByTicket returns the instance tracking the given ticket reference, or
	// ErrNotFound. Used to resolve webhook events.
	GetByTicket(ctx context.Context, ticketRef string) (*entity.WorkflowInstance, error)

	// Save persists the instance's current mutations
	Save(ctx context.Context, inst *entity.WorkflowInstance) error

	// ListAwaiting returns non-terminal instances that entered
	// AWAITING_APPROVAL before the cutoff. Feeds the staleness reminder.
	ListAwaiting(ctx context.Context, enteredBefore time.Time) ([]*entity.WorkflowInstance, error)

	// Lock acquires the per-key mutex and returns its release function. Events
	// sharing a correlation key are serialized; unrelated keys proceed in
	// parallel.
	Lock(key string) (release func())
}
