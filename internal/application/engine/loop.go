package engine

import (
	"context"
	"fmt"

	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"go.uber.org/zap"
)

// Engine is the orchestration loop. Bound to one workflow instance per run, it
// repeatedly asks the policy for the next action within the state's permitted
// set, dispatches it, applies the transition, and persists. It returns when
// the instance is terminal or suspended awaiting an external event; it never
// blocks waiting for a human.
type Engine struct {
	store         port.CorrelationStore
	dispatcher    *Dispatcher
	ledger        *approval.Ledger
	policy        port.Policy
	maxIterations int
	logger        *zap.Logger
}

// NewEngine creates the orchestration loop.
func NewEngine(
	store port.CorrelationStore,
	dispatcher *Dispatcher,
	ledger *approval.Ledger,
	policy port.Policy,
	maxIterations int,
	logger *zap.Logger,
) *Engine {
	if maxIterations <= 0 {
		maxIterations = 8
	}
	return &Engine{
		store:         store,
		dispatcher:    dispatcher,
		ledger:        ledger,
		policy:        policy,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run drives the instance until terminal or suspended. The caller must hold
// the instance's key lock.
func (e *Engine) Run(ctx context.Context, inst *entity.WorkflowInstance) error {
	machine := BuildAccessStateMachine(inst.State)
	checkedThisRun := false
	var lastAction action.Name

	for i := 0; i < e.maxIterations; i++ {
		if inst.Terminal() {
			return e.store.Save(ctx, inst)
		}

		switch inst.State {
		case workflow.StateApproversNotified:
			// Waiting is unconditional once notification was attempted
			if err := e.fire(ctx, inst, machine, workflow.TriggerAwait); err != nil {
				return err
			}
			continue

		case workflow.StateAwaitingApproval:
			if e.ledger.QuorumMet(inst) {
				e.logger.Info("Quorum met",
					zap.String("correlation_key", inst.CorrelationKey),
					zap.Int("approvals", len(inst.ApprovalLedger)))
				if err := e.fire(ctx, inst, machine, workflow.TriggerQuorumMet); err != nil {
					return err
				}
				continue
			}
			if checkedThisRun {
				// Still below quorum after reconciling: suspend until the
				// next event resumes this instance.
				e.logger.Info("Suspending until next approval event",
					zap.String("correlation_key", inst.CorrelationKey),
					zap.Strings("pending", e.ledger.Pending(inst)))
				return e.store.Save(ctx, inst)
			}
		}

		permitted := PermittedActions(inst.State)
		if len(permitted) == 0 {
			e.logger.Warn("No permitted actions for state, stopping",
				zap.String("correlation_key", inst.CorrelationKey),
				zap.String("state", inst.State.String()))
			return e.store.Save(ctx, inst)
		}

		req := e.chooseAction(ctx, inst, permitted, lastAction)
		lastAction = req.Action

		result, err := e.dispatcher.Dispatch(ctx, inst, req.Action)
		if err != nil {
			if port.IsUnrecoverable(err) {
				e.failInstance(ctx, inst, machine, err)
				return e.store.Save(ctx, inst)
			}
			// Transient failures have already exhausted their retries inside
			// the dispatcher; persist progress and let the next event retry.
			if saveErr := e.store.Save(ctx, inst); saveErr != nil {
				return saveErr
			}
			return err
		}

		if req.Action == action.CheckApprovals {
			checkedThisRun = true
		}

		if err := e.applyResult(ctx, inst, machine, result); err != nil {
			return err
		}
	}

	e.logger.Warn("Iteration cap reached, stopping loop",
		zap.String("correlation_key", inst.CorrelationKey),
		zap.String("state", inst.State.String()),
		zap.Int("max_iterations", e.maxIterations))
	return e.store.Save(ctx, inst)
}

// chooseAction consults the policy and constrains the proposal to the
// permitted set. A misbehaving policy cannot drive the workflow out of its
// graph: invalid or repeated no-op proposals fall back to the first permitted
// transitioning action.
func (e *Engine) chooseAction(ctx context.Context, inst *entity.WorkflowInstance, permitted []action.Name, lastAction action.Name) action.Request {
	req, err := e.policy.ChooseAction(ctx, inst, permitted)
	if err != nil {
		e.logger.Warn("Policy error, falling back to state table",
			zap.String("correlation_key", inst.CorrelationKey),
			zap.Error(err))
		return action.Request{Action: permitted[0], Reason: "policy fallback"}
	}

	valid := false
	for _, p := range permitted {
		if req.Action == p {
			valid = true
			break
		}
	}
	if !valid {
		e.logger.Warn("Policy proposed disallowed action, falling back",
			zap.String("correlation_key", inst.CorrelationKey),
			zap.String("proposed", req.Action.String()),
			zap.String("state", inst.State.String()))
		return action.Request{Action: permitted[0], Reason: "policy fallback"}
	}

	// A policy stuck proposing the same non-transitioning action would spin
	// against the iteration cap; advance it instead.
	if req.Action == lastAction && req.Action == action.PostMessage {
		return action.Request{Action: permitted[0], Reason: "advance past repeated no-op"}
	}

	return req
}

// applyResult maps a successful tool result onto a state transition.
func (e *Engine) applyResult(ctx context.Context, inst *entity.WorkflowInstance, machine workflow.StateMachine, result Result) error {
	var trigger workflow.Trigger

	switch result.Action {
	case action.CreateTicket:
		trigger = workflow.TriggerOpenTicket
	case action.NotifyApprovers:
		trigger = workflow.TriggerNotifyApprovers
	case action.CloseTicket:
		trigger = workflow.TriggerClose
	case action.CheckApprovals, action.PostMessage:
		// No transition; the loop re-evaluates the state
		return e.store.Save(ctx, inst)
	default:
		return fmt.Errorf("no transition mapping for action %s", result.Action)
	}

	// Re-entry safety: a short-circuited action whose transition already
	// happened is a no-op.
	if !machine.CanFire(trigger) {
		if result.ShortCircuit {
			return e.store.Save(ctx, inst)
		}
		return fmt.Errorf("%w: action %s completed but trigger %s not permitted in state %s",
			workflow.ErrInvalidTransition, result.Action, trigger, inst.State)
	}

	return e.fire(ctx, inst, machine, trigger)
}

// fire executes a trigger and persists the resulting state.
func (e *Engine) fire(ctx context.Context, inst *entity.WorkflowInstance, machine workflow.StateMachine, trigger workflow.Trigger) error {
	previous := machine.State()
	if err := machine.Fire(ctx, trigger); err != nil {
		return err
	}
	inst.EnterState(machine.State())

	e.logger.Info("State transition",
		zap.String("correlation_key", inst.CorrelationKey),
		zap.String("from", previous.String()),
		zap.String("to", inst.State.String()),
		zap.String("trigger", trigger.String()))

	return e.store.Save(ctx, inst)
}

// failInstance moves the workflow to FAILED, notifying the requester with a
// human-readable reason exactly once.
func (e *Engine) failInstance(ctx context.Context, inst *entity.WorkflowInstance, machine workflow.StateMachine, cause error) {
	e.logger.Error("Unrecoverable tool error, failing workflow",
		zap.String("correlation_key", inst.CorrelationKey),
		zap.String("state", inst.State.String()),
		zap.Error(cause))

	if machine.CanFire(workflow.TriggerFail) {
		_ = machine.Fire(ctx, workflow.TriggerFail)
	}
	inst.MarkFailed(cause.Error())
	e.dispatcher.NotifyFailure(ctx, inst)
}
