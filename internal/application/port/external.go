package port

import (
	"context"
	"time"

	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/domain/entity"
)

// IssueDetails is the payload for ticket creation.
type IssueDetails struct {
	Summary     string
	Description string
	Labels      []string
}

// Comment is a normalized ticket comment.
type Comment struct {
	Author    string
	Text      string
	CreatedAt time.Time
}

// Ticketer is the ticketing collaborator contract. The engine never assumes
// specific transition names exist; it queries availability before closing.
type Ticketer interface {
	// CreateIssue creates the external ticket and returns its reference
	CreateIssue(ctx context.Context, details IssueDetails) (string, error)

	// GetComments returns the ticket's comments in creation order
	GetComments(ctx context.Context, ticketRef string) ([]Comment, error)

	// AddComment posts a comment on the ticket
	AddComment(ctx context.Context, ticketRef, body string) error

	// GetStatus returns the ticket's current status name
	GetStatus(ctx context.Context, ticketRef string) (string, error)

	// GetDescription returns the ticket's description body
	GetDescription(ctx context.Context, ticketRef string) (string, error)

	// UpdateDescription replaces the ticket's description body
	UpdateDescription(ctx context.Context, ticketRef, description string) error

	// ListAvailableTransitions returns the transition names currently offered
	ListAvailableTransitions(ctx context.Context, ticketRef string) ([]string, error)

	// ApplyTransition moves the ticket through the named transition
	ApplyTransition(ctx context.Context, ticketRef, transitionName string) error
}

// Messenger is the chat collaborator contract for outbound messages.
type Messenger interface {
	// PostMessage posts text into a channel thread
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
}

// ApproverResolver computes the ordered approver set for a request. The
// resolution must be deterministic: the same request always yields the same
// set, so resuming a suspended workflow never changes RequiredApprovers.
type ApproverResolver interface {
	Resolve(ctx context.Context, request entity.RequestDetails) ([]string, error)
}

// Policy proposes the next tool action for an instance. Implementations are
// opaque (LLM-backed in production, a rules table in tests); the orchestration
// loop only accepts proposals within the permitted set.
type Policy interface {
	ChooseAction(ctx context.Context, inst *entity.WorkflowInstance, permitted []action.Name) (action.Request, error)
}
