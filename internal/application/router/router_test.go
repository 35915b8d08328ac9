package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/access-approval/internal/application/engine"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/garyjia/access-approval/internal/infrastructure/memstore"
	"github.com/garyjia/access-approval/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTicketer struct {
	mu          sync.Mutex
	nextKey     string
	createCalls int
	added       []string
	status      string
	transitions []string
	applied     []string
	description string
	comments    []port.Comment
}

func (s *stubTicketer) CreateIssue(ctx context.Context, details port.IssueDetails) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	s.description = details.Description
	return s.nextKey, nil
}

func (s *stubTicketer) GetComments(ctx context.Context, ticketRef string) ([]port.Comment, error) {
	return s.comments, nil
}

func (s *stubTicketer) AddComment(ctx context.Context, ticketRef, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, body)
	return nil
}

func (s *stubTicketer) GetStatus(ctx context.Context, ticketRef string) (string, error) {
	return s.status, nil
}

func (s *stubTicketer) GetDescription(ctx context.Context, ticketRef string) (string, error) {
	return s.description, nil
}

func (s *stubTicketer) UpdateDescription(ctx context.Context, ticketRef, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.description = description
	return nil
}

func (s *stubTicketer) ListAvailableTransitions(ctx context.Context, ticketRef string) ([]string, error) {
	return s.transitions, nil
}

func (s *stubTicketer) ApplyTransition(ctx context.Context, ticketRef, transitionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, transitionName)
	s.status = transitionName
	return nil
}

type stubMessenger struct {
	mu       sync.Mutex
	messages []string
}

func (s *stubMessenger) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

type stubResolver struct {
	approvers []string
}

func (s *stubResolver) Resolve(ctx context.Context, request entity.RequestDetails) ([]string, error) {
	return s.approvers, nil
}

type fixture struct {
	store    *memstore.Store
	ticketer *stubTicketer
	router   *Router
}

func newFixture(ticketer *stubTicketer) *fixture {
	logger := zap.NewNop()
	store := memstore.New()
	ledger := approval.NewLedger(approval.Unanimous, logger)
	resolver := &stubResolver{approvers: []string{"alice@example.com", "bob@example.com"}}
	dispatcher := engine.NewDispatcher(ticketer, &stubMessenger{}, resolver, ledger, nil,
		engine.DispatcherConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, logger)
	eng := engine.NewEngine(store, dispatcher, ledger, policy.NewRules(), 0, logger)
	r := New(store, eng, ledger, ticketer, resolver, nil, logger)
	return &fixture{store: store, ticketer: ticketer, router: r}
}

func mention(id string) event.MentionEvent {
	return event.MentionEvent{
		ID:          id,
		ChannelID:   "C42",
		ThreadTS:    "1700000000.000200",
		AuthorID:    "U7",
		AuthorEmail: "dev1@example.com",
		Text:        "<@BOT123> I need access to the staging database",
	}
}

func TestRouter_MentionCreatesAndRunsWorkflow(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-50"})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAwaitingApproval, inst.State)
	assert.Equal(t, "IT-50", inst.TicketRef)
	assert.Equal(t, "I need access to the staging database", inst.Request.AccessRequested)
	assert.True(t, inst.HasSeenEvent("m1"))
}

func TestRouter_DuplicateMentionIgnored(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-51"})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))
	require.NoError(t, f.router.Route(ctx, mention("m1")))

	assert.Equal(t, 1, f.ticketer.createCalls)
}

func TestRouter_SecondMentionSameThreadReusesInstance(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-52"})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))
	// A nudge in the same thread is a distinct event on the same workflow
	require.NoError(t, f.router.Route(ctx, mention("m2")))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ticketer.createCalls)
	assert.True(t, inst.HasSeenEvent("m1"))
	assert.True(t, inst.HasSeenEvent("m2"))
}

func TestRouter_WebhookApprovalsDriveCompletion(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-53", transitions: []string{"Done"}})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))

	require.NoError(t, f.router.Route(ctx, event.WebhookEvent{
		ID: "w1", TicketRef: "IT-53",
		CommentAuthor: "alice@example.com", CommentText: "Approved",
	}))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAwaitingApproval, inst.State)

	require.NoError(t, f.router.Route(ctx, event.WebhookEvent{
		ID: "w2", TicketRef: "IT-53",
		CommentAuthor: "bob@example.com", CommentText: "approved, ship it",
	}))

	inst, err = f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateClosed, inst.State)
	assert.Equal(t, []string{"Done"}, f.ticketer.applied)
}

func TestRouter_DuplicateWebhookLeavesStateUnchanged(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-54"})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))

	wh := event.WebhookEvent{
		ID: "w1", TicketRef: "IT-54",
		CommentAuthor: "alice@example.com", CommentText: "Approved",
	}
	require.NoError(t, f.router.Route(ctx, wh))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	historyLen := len(inst.History)
	ledgerLen := len(inst.ApprovalLedger)

	require.NoError(t, f.router.Route(ctx, wh))

	inst, err = f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, historyLen, len(inst.History))
	assert.Equal(t, ledgerLen, len(inst.ApprovalLedger))
	assert.Equal(t, workflow.StateAwaitingApproval, inst.State)
}

func TestRouter_NonApprovalCommentRecordsNothing(t *testing.T) {
	f := newFixture(&stubTicketer{nextKey: "IT-55"})
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, mention("m1")))
	require.NoError(t, f.router.Route(ctx, event.WebhookEvent{
		ID: "w1", TicketRef: "IT-55",
		CommentAuthor: "alice@example.com", CommentText: "what environment is this for?",
	}))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, inst.ApprovalLedger)
	assert.True(t, inst.HasSeenEvent("w1"))
}

func TestRouter_UntrackedWebhookDiscarded(t *testing.T) {
	// No instance and a ticket description without correlation lines:
	// the webhook is logged and dropped, never an error.
	f := newFixture(&stubTicketer{description: "some unrelated issue"})
	ctx := context.Background()

	err := f.router.Route(ctx, event.WebhookEvent{
		ID: "w1", TicketRef: "OPS-999",
		CommentAuthor: "alice@example.com", CommentText: "Approved",
	})
	assert.NoError(t, err)

	_, err = f.store.GetByTicket(ctx, "OPS-999")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestRouter_ReconstructsMappingFromTicketDescription(t *testing.T) {
	ticketer := &stubTicketer{
		description: "Request from: dev1@example.com\n" +
			"Access requested: staging database\n" +
			"Slack Channel: C42\n" +
			"Slack Thread: 1700000000.000200\n",
	}
	f := newFixture(ticketer)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, event.WebhookEvent{
		ID: "w1", TicketRef: "IT-56",
		CommentAuthor: "alice@example.com", CommentText: "Approved",
	}))

	key := event.ThreadKey("C42", "1700000000.000200")
	inst, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "IT-56", inst.TicketRef)
	assert.Equal(t, "dev1@example.com", inst.Request.RequesterEmail)
	assert.Contains(t, inst.ApprovalLedger, "alice@example.com")
}

func TestExtractAccessRequest(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<@BOT123> prod db access", "prod db access"},
		{"please <@BOT123> grant me vpn", "please  grant me vpn"},
		{"<@BOT123>", "unspecified"},
		{"no mention at all", "no mention at all"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractAccessRequest(tt.in))
	}
}
