package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/internal/infrastructure/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noteTicketer struct {
	mu    sync.Mutex
	added []string
}

func (n *noteTicketer) CreateIssue(ctx context.Context, details port.IssueDetails) (string, error) {
	return "", nil
}
func (n *noteTicketer) GetComments(ctx context.Context, ticketRef string) ([]port.Comment, error) {
	return nil, nil
}
func (n *noteTicketer) AddComment(ctx context.Context, ticketRef, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, body)
	return nil
}
func (n *noteTicketer) GetStatus(ctx context.Context, ticketRef string) (string, error) {
	return "", nil
}
func (n *noteTicketer) GetDescription(ctx context.Context, ticketRef string) (string, error) {
	return "", nil
}
func (n *noteTicketer) UpdateDescription(ctx context.Context, ticketRef, description string) error {
	return nil
}
func (n *noteTicketer) ListAvailableTransitions(ctx context.Context, ticketRef string) ([]string, error) {
	return nil, nil
}
func (n *noteTicketer) ApplyTransition(ctx context.Context, ticketRef, transitionName string) error {
	return nil
}

type noteMessenger struct {
	mu       sync.Mutex
	messages []string
}

func (n *noteMessenger) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func staleInstance(key string, age time.Duration) *entity.WorkflowInstance {
	inst := entity.NewWorkflowInstance(key, entity.RequestDetails{
		RequesterEmail:  "dev1@example.com",
		AccessRequested: "vpn",
		ChannelID:       "C1",
		ThreadTS:        "1700.1",
	})
	_ = inst.SetTicketRef("IT-" + key)
	inst.SetRequiredApprovers([]string{"alice@example.com"})
	inst.State = workflow.StateAwaitingApproval
	inst.StateEnteredAt = time.Now().Add(-age)
	return inst
}

func TestScanner_RemindsStaleAwaitingOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ticketer := &noteTicketer{}
	messenger := &noteMessenger{}
	ledger := approval.NewLedger(approval.Unanimous, zap.NewNop())

	inst := staleInstance("k1", 2*time.Hour)
	_, _, err := store.ResolveOrCreate(ctx, inst.CorrelationKey, func() *entity.WorkflowInstance { return inst })
	require.NoError(t, err)

	s := NewScanner(store, ticketer, messenger, ledger, Config{
		Interval:   time.Minute,
		StaleAfter: time.Hour,
	}, zap.NewNop())

	s.Sweep(ctx)
	assert.Len(t, ticketer.added, 1)
	assert.Len(t, messenger.messages, 1)
	assert.Contains(t, messenger.messages[0], "alice@example.com")

	// A second sweep inside the window stays quiet
	s.Sweep(ctx)
	assert.Len(t, ticketer.added, 1)
	assert.Len(t, messenger.messages, 1)
}

func TestScanner_FreshInstancesLeftAlone(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	ticketer := &noteTicketer{}
	messenger := &noteMessenger{}
	ledger := approval.NewLedger(approval.Unanimous, zap.NewNop())

	inst := staleInstance("k1", 10*time.Minute)
	_, _, err := store.ResolveOrCreate(ctx, inst.CorrelationKey, func() *entity.WorkflowInstance { return inst })
	require.NoError(t, err)

	s := NewScanner(store, ticketer, messenger, ledger, Config{
		Interval:   time.Minute,
		StaleAfter: time.Hour,
	}, zap.NewNop())

	s.Sweep(ctx)
	assert.Empty(t, ticketer.added)
	assert.Empty(t, messenger.messages)
}
