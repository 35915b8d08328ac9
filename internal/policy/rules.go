// Package policy provides the tool-selection policy implementations: a
// deterministic rules table and an LLM-backed chooser. Both are constrained by
// the caller to the state machine's permitted action set, so neither can drive
// a workflow out of its graph.
package policy

import (
	"context"
	"fmt"

	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// Rules is the deterministic policy: a fixed table from state to next action.
// Used in tests and as the fallback when the LLM misbehaves or is disabled.
type Rules struct{}

// NewRules creates the rules policy.
func NewRules() *Rules {
	return &Rules{}
}

// ChooseAction picks the next action for the instance's state.
func (r *Rules) ChooseAction(ctx context.Context, inst *entity.WorkflowInstance, permitted []action.Name) (action.Request, error) {
	if len(permitted) == 0 {
		return action.Request{}, fmt.Errorf("no permitted actions in state %s", inst.State)
	}

	// Acknowledge the requester before opening the ticket
	if inst.State == workflow.StateCreated && !inst.Acknowledged {
		for _, p := range permitted {
			if p == action.PostMessage {
				return action.Request{Action: action.PostMessage, Reason: "acknowledge new request"}, nil
			}
		}
	}

	var want action.Name
	switch inst.State {
	case workflow.StateCreated:
		want = action.CreateTicket
	case workflow.StateTicketOpen:
		want = action.NotifyApprovers
	case workflow.StateAwaitingApproval:
		want = action.CheckApprovals
	case workflow.StateApproved:
		want = action.CloseTicket
	default:
		return action.Request{}, fmt.Errorf("no action rule for state %s", inst.State)
	}

	for _, p := range permitted {
		if p == want {
			return action.Request{Action: want, Reason: "state table"}, nil
		}
	}
	return action.Request{Action: permitted[0], Reason: "first permitted"}, nil
}

var _ port.Policy = (*Rules)(nil)
