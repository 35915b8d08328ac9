package engine

import (
	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// BuildAccessStateMachine configures the access-request lifecycle. State
// transitions only move forward; FAILED is reachable from every non-terminal
// state on an unrecoverable tool error.
func BuildAccessStateMachine(initialState workflow.State) workflow.StateMachine {
	builder := workflow.NewBuilder()

	builder.Configure(workflow.StateCreated).
		Permit(workflow.TriggerOpenTicket, workflow.StateTicketOpen).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	builder.Configure(workflow.StateTicketOpen).
		Permit(workflow.TriggerNotifyApprovers, workflow.StateApproversNotified).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	// Notification was attempted; waiting is unconditional. Partial delivery
	// failures never block this edge.
	builder.Configure(workflow.StateApproversNotified).
		Permit(workflow.TriggerAwait, workflow.StateAwaitingApproval).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	builder.Configure(workflow.StateAwaitingApproval).
		PermitReentry(workflow.TriggerApprovalSignal).
		Permit(workflow.TriggerQuorumMet, workflow.StateApproved).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	builder.Configure(workflow.StateApproved).
		Permit(workflow.TriggerClose, workflow.StateClosed).
		Permit(workflow.TriggerFail, workflow.StateFailed)

	// CLOSED and FAILED are terminal - no outgoing transitions

	return builder.Build(initialState)
}

// PermittedActions maps a state to the tool actions the policy may validly
// request there. States with no entry auto-advance without a tool call.
func PermittedActions(state workflow.State) []action.Name {
	switch state {
	case workflow.StateCreated:
		return []action.Name{action.CreateTicket, action.PostMessage}
	case workflow.StateTicketOpen:
		return []action.Name{action.NotifyApprovers}
	case workflow.StateAwaitingApproval:
		return []action.Name{action.CheckApprovals}
	case workflow.StateApproved:
		return []action.Name{action.CloseTicket}
	default:
		return nil
	}
}
