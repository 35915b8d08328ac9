package policy

import (
	"context"
	"testing"

	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleInstance(state workflow.State, acked bool) *entity.WorkflowInstance {
	inst := entity.NewWorkflowInstance("k1", entity.RequestDetails{
		RequesterEmail:  "dev1@example.com",
		AccessRequested: "vpn",
	})
	inst.EnterState(state)
	inst.Acknowledged = acked
	return inst
}

func TestRules_AcknowledgesBeforeCreatingTicket(t *testing.T) {
	r := NewRules()
	inst := ruleInstance(workflow.StateCreated, false)

	req, err := r.ChooseAction(context.Background(), inst,
		[]action.Name{action.CreateTicket, action.PostMessage})
	require.NoError(t, err)
	assert.Equal(t, action.PostMessage, req.Action)
}

func TestRules_StateTable(t *testing.T) {
	tests := []struct {
		state     workflow.State
		permitted []action.Name
		want      action.Name
	}{
		{workflow.StateCreated, []action.Name{action.CreateTicket, action.PostMessage}, action.CreateTicket},
		{workflow.StateTicketOpen, []action.Name{action.NotifyApprovers}, action.NotifyApprovers},
		{workflow.StateAwaitingApproval, []action.Name{action.CheckApprovals}, action.CheckApprovals},
		{workflow.StateApproved, []action.Name{action.CloseTicket}, action.CloseTicket},
	}
	r := NewRules()
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			inst := ruleInstance(tt.state, true)
			req, err := r.ChooseAction(context.Background(), inst, tt.permitted)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Action)
		})
	}
}

func TestRules_FallsBackToFirstPermitted(t *testing.T) {
	r := NewRules()
	inst := ruleInstance(workflow.StateCreated, true)

	// The preferred action is not offered; take what is
	req, err := r.ChooseAction(context.Background(), inst, []action.Name{action.PostMessage})
	require.NoError(t, err)
	assert.Equal(t, action.PostMessage, req.Action)
}

func TestRules_EmptyPermittedSetErrors(t *testing.T) {
	r := NewRules()
	inst := ruleInstance(workflow.StateCreated, true)

	_, err := r.ChooseAction(context.Background(), inst, nil)
	assert.Error(t, err)
}
