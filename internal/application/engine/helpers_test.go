package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// fakeTicketer is a scriptable in-memory Ticketer.
type fakeTicketer struct {
	mu sync.Mutex

	createCalls    int
	transientFails int // initial CreateIssue calls that fail transiently
	createErr      error
	nextKey        string

	comments    []port.Comment
	commentsErr error
	added       []string

	status      string
	transitions []string
	applied     []string

	description string
}

func (f *fakeTicketer) CreateIssue(ctx context.Context, details port.IssueDetails) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.createCalls <= f.transientFails {
		return "", port.Transient("create issue", errors.New("gateway timeout"))
	}
	if f.nextKey == "" {
		f.nextKey = "IT-1"
	}
	return f.nextKey, nil
}

func (f *fakeTicketer) GetComments(ctx context.Context, ticketRef string) ([]port.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentsErr != nil {
		return nil, f.commentsErr
	}
	return f.comments, nil
}

func (f *fakeTicketer) AddComment(ctx context.Context, ticketRef, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, body)
	return nil
}

func (f *fakeTicketer) GetStatus(ctx context.Context, ticketRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeTicketer) GetDescription(ctx context.Context, ticketRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.description, nil
}

func (f *fakeTicketer) UpdateDescription(ctx context.Context, ticketRef, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.description = description
	return nil
}

func (f *fakeTicketer) ListAvailableTransitions(ctx context.Context, ticketRef string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitions, nil
}

func (f *fakeTicketer) ApplyTransition(ctx context.Context, ticketRef, transitionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, transitionName)
	f.status = transitionName
	return nil
}

// fakeMessenger records posted chat messages.
type fakeMessenger struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeMessenger) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeMessenger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeResolver returns a fixed approver set.
type fakeResolver struct {
	approvers []string
	err       error
}

func (f *fakeResolver) Resolve(ctx context.Context, request entity.RequestDetails) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.approvers, nil
}

func testLedger() *approval.Ledger {
	return approval.NewLedger(approval.Unanimous, zap.NewNop())
}

func testDispatcher(t *fakeTicketer, m *fakeMessenger, r *fakeResolver) *Dispatcher {
	return NewDispatcher(t, m, r, testLedger(), nil, DispatcherConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, zap.NewNop())
}

func testInstance(key string) *entity.WorkflowInstance {
	return entity.NewWorkflowInstance(key, entity.RequestDetails{
		RequesterID:     "U123",
		RequesterEmail:  "dev1@example.com",
		AccessRequested: "production database",
		ChannelID:       "C555",
		ThreadTS:        "1700000000.000100",
	})
}
