package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ResolveOrCreate(t *testing.T) {
	store := New()
	ctx := context.Background()

	inst, created, err := store.ResolveOrCreate(ctx, "k1", func() *entity.WorkflowInstance {
		return entity.NewWorkflowInstance("k1", entity.RequestDetails{})
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "k1", inst.CorrelationKey)

	again, created, err := store.ResolveOrCreate(ctx, "k1", func() *entity.WorkflowInstance {
		t.Fatal("factory must not run for an existing key")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, inst, again)
}

// The race on workflow creation is the most likely correctness bug class:
// concurrent first-events for one key must produce exactly one instance.
func TestStore_ResolveOrCreateConcurrent(t *testing.T) {
	store := New()
	ctx := context.Background()

	var factoryRuns atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.ResolveOrCreate(ctx, "same-key", func() *entity.WorkflowInstance {
				factoryRuns.Add(1)
				return entity.NewWorkflowInstance("same-key", entity.RequestDetails{})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), factoryRuns.Load())
}

func TestStore_GetNotFound(t *testing.T) {
	store := New()

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, port.ErrNotFound))

	_, err = store.GetByTicket(context.Background(), "OPS-999")
	assert.True(t, errors.Is(err, port.ErrNotFound))
}

func TestStore_TicketIndex(t *testing.T) {
	store := New()
	ctx := context.Background()

	inst, _, err := store.ResolveOrCreate(ctx, "k1", func() *entity.WorkflowInstance {
		return entity.NewWorkflowInstance("k1", entity.RequestDetails{})
	})
	require.NoError(t, err)

	require.NoError(t, inst.SetTicketRef("OPS-1"))
	require.NoError(t, store.Save(ctx, inst))

	got, err := store.GetByTicket(ctx, "OPS-1")
	require.NoError(t, err)
	assert.Same(t, inst, got)
}

func TestStore_ListAwaiting(t *testing.T) {
	store := New()
	ctx := context.Background()

	stale := entity.NewWorkflowInstance("stale", entity.RequestDetails{})
	stale.EnterState(workflow.StateTicketOpen)
	stale.EnterState(workflow.StateAwaitingApproval)
	stale.StateEnteredAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, stale))

	fresh := entity.NewWorkflowInstance("fresh", entity.RequestDetails{})
	fresh.EnterState(workflow.StateAwaitingApproval)
	require.NoError(t, store.Save(ctx, fresh))

	closed := entity.NewWorkflowInstance("closed", entity.RequestDetails{})
	closed.EnterState(workflow.StateClosed)
	require.NoError(t, store.Save(ctx, closed))

	got, err := store.ListAwaiting(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].CorrelationKey)
}

func TestStore_PerKeyLocking(t *testing.T) {
	store := New()

	release := store.Lock("k1")

	// A different key must not block
	done := make(chan struct{})
	go func() {
		r := store.Lock("k2")
		r()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated key blocked")
	}

	// The same key must block until released
	acquired := make(chan struct{})
	go func() {
		r := store.Lock("k1")
		r()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock on held key acquired without release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}
