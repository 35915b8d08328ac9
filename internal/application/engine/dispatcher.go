package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// DispatcherConfig tunes retry behavior and ticket composition.
type DispatcherConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	TicketBaseURL  string
}

// Result reports what a dispatched action did.
type Result struct {
	Action       action.Name
	ShortCircuit bool // the effect was already applied; nothing ran
	Detail       string
}

// Dispatcher executes one named tool action against one workflow instance,
// exactly once per logical request. Effects already recorded on the instance
// (ticket reference, approver set, flags) short-circuit to a cache hit.
type Dispatcher struct {
	ticketer  port.Ticketer
	messenger port.Messenger
	resolver  port.ApproverResolver
	ledger    *approval.Ledger
	approved  approval.ApprovedPredicate
	cfg       DispatcherConfig
	logger    *zap.Logger
}

// NewDispatcher creates a tool dispatcher.
func NewDispatcher(
	ticketer port.Ticketer,
	messenger port.Messenger,
	resolver port.ApproverResolver,
	ledger *approval.Ledger,
	approved approval.ApprovedPredicate,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if approved == nil {
		approved = approval.ContainsApproved
	}
	return &Dispatcher{
		ticketer:  ticketer,
		messenger: messenger,
		resolver:  resolver,
		ledger:    ledger,
		approved:  approved,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dispatch executes the named action. The caller holds the instance's key
// lock. Terminal instances never reach here; the loop stops first.
func (d *Dispatcher) Dispatch(ctx context.Context, inst *entity.WorkflowInstance, name action.Name) (Result, error) {
	key := action.IdempotencyKey(inst.CorrelationKey, name)
	d.logger.Debug("Dispatching tool action",
		zap.String("action", name.String()),
		zap.String("idempotency_key", key))

	switch name {
	case action.CreateTicket:
		return d.createTicket(ctx, inst)
	case action.NotifyApprovers:
		return d.notifyApprovers(ctx, inst)
	case action.CheckApprovals:
		return d.checkApprovals(ctx, inst)
	case action.CloseTicket:
		return d.closeTicket(ctx, inst)
	case action.PostMessage:
		return d.postMessage(ctx, inst)
	default:
		return Result{}, fmt.Errorf("unknown action: %s", name)
	}
}

func (d *Dispatcher) createTicket(ctx context.Context, inst *entity.WorkflowInstance) (Result, error) {
	if inst.TicketRef != "" {
		d.logger.Info("Ticket already exists, short-circuiting create",
			zap.String("correlation_key", inst.CorrelationKey),
			zap.String("ticket_ref", inst.TicketRef))
		return Result{Action: action.CreateTicket, ShortCircuit: true, Detail: inst.TicketRef}, nil
	}

	details := port.IssueDetails{
		Summary:     fmt.Sprintf("Grant %s access to %s", inst.Request.AccessRequested, inst.Request.RequesterEmail),
		Description: buildTicketDescription(inst, nil),
		Labels:      []string{"access-request"},
	}

	var ref string
	err := d.withRetry(ctx, "create ticket", func() error {
		var err error
		ref, err = d.ticketer.CreateIssue(ctx, details)
		return err
	})
	if err != nil {
		return Result{}, port.Unrecoverable(action.CreateTicket.String(), "ticket system rejected creation", err)
	}

	if err := inst.SetTicketRef(ref); err != nil {
		return Result{}, port.Unrecoverable(action.CreateTicket.String(), "conflicting ticket reference", err)
	}

	d.logger.Info("Ticket created",
		zap.String("correlation_key", inst.CorrelationKey),
		zap.String("ticket_ref", ref))
	return Result{Action: action.CreateTicket, Detail: ref}, nil
}

func (d *Dispatcher) notifyApprovers(ctx context.Context, inst *entity.WorkflowInstance) (Result, error) {
	if len(inst.RequiredApprovers) == 0 {
		approvers, err := d.resolver.Resolve(ctx, inst.Request)
		if err != nil {
			return Result{}, port.Unrecoverable(action.NotifyApprovers.String(), "approver resolution failed", err)
		}
		if len(approvers) == 0 {
			return Result{}, port.Unrecoverable(action.NotifyApprovers.String(), "no approvers resolved for requester", nil)
		}
		inst.SetRequiredApprovers(approvers)
	} else {
		d.logger.Debug("Approver set already computed",
			zap.String("correlation_key", inst.CorrelationKey))
	}

	// Best effort from here on: partial notification delivery never blocks
	// the workflow.
	desc := buildTicketDescription(inst, inst.RequiredApprovers)
	if err := d.withRetry(ctx, "update ticket description", func() error {
		return d.ticketer.UpdateDescription(ctx, inst.TicketRef, desc)
	}); err != nil {
		d.logger.Warn("Failed to update ticket description",
			zap.String("ticket_ref", inst.TicketRef), zap.Error(err))
	}

	body := fmt.Sprintf(
		"Approval requested from: %s\nPlease review %s and add a comment containing the word 'Approved' to sign off.",
		strings.Join(inst.RequiredApprovers, ", "), d.ticketURL(inst.TicketRef))
	if err := d.withRetry(ctx, "post approver comment", func() error {
		return d.ticketer.AddComment(ctx, inst.TicketRef, body)
	}); err != nil {
		d.logger.Warn("Failed to post approver comment",
			zap.String("ticket_ref", inst.TicketRef), zap.Error(err))
	}

	msg := fmt.Sprintf("Ticket %s created. Waiting for approval from: %s",
		d.ticketURL(inst.TicketRef), strings.Join(inst.RequiredApprovers, ", "))
	if err := d.messenger.PostMessage(ctx, inst.Request.ChannelID, inst.Request.ThreadTS, msg); err != nil {
		d.logger.Warn("Failed to notify requester thread", zap.Error(err))
	}

	return Result{Action: action.NotifyApprovers, Detail: strings.Join(inst.RequiredApprovers, ",")}, nil
}

// checkApprovals reconciles the ledger against the ticket's comments. Webhook
// payloads already feed the ledger; this catches approvals whose webhooks were
// lost. Transient failures are not fatal: the next event retries.
func (d *Dispatcher) checkApprovals(ctx context.Context, inst *entity.WorkflowInstance) (Result, error) {
	var comments []port.Comment
	err := d.withRetry(ctx, "get ticket comments", func() error {
		var err error
		comments, err = d.ticketer.GetComments(ctx, inst.TicketRef)
		return err
	})
	if err != nil {
		d.logger.Warn("Failed to fetch comments for approval check",
			zap.String("ticket_ref", inst.TicketRef), zap.Error(err))
		return Result{Action: action.CheckApprovals, Detail: "comment fetch failed"}, nil
	}

	recorded := 0
	for _, c := range comments {
		if !d.approved(c.Text) {
			continue
		}
		eventID := fmt.Sprintf("ticket-comment:%s:%s", inst.TicketRef, c.Author)
		if d.ledger.Record(inst, c.Author, eventID) {
			recorded++
		}
	}

	return Result{Action: action.CheckApprovals, Detail: fmt.Sprintf("%d new approvals", recorded)}, nil
}

func (d *Dispatcher) closeTicket(ctx context.Context, inst *entity.WorkflowInstance) (Result, error) {
	status, err := d.ticketer.GetStatus(ctx, inst.TicketRef)
	if err == nil && isDoneLike(status) {
		d.logger.Info("Ticket already closed, short-circuiting",
			zap.String("ticket_ref", inst.TicketRef),
			zap.String("status", status))
		d.notifyRequesterClosed(ctx, inst)
		return Result{Action: action.CloseTicket, ShortCircuit: true, Detail: status}, nil
	}

	if err := d.withRetry(ctx, "post closing comment", func() error {
		return d.ticketer.AddComment(ctx, inst.TicketRef, "All approvals received. Access granted. Closing ticket.")
	}); err != nil {
		d.logger.Warn("Failed to post closing comment",
			zap.String("ticket_ref", inst.TicketRef), zap.Error(err))
	}

	var available []string
	err = d.withRetry(ctx, "list transitions", func() error {
		var err error
		available, err = d.ticketer.ListAvailableTransitions(ctx, inst.TicketRef)
		return err
	})
	if err != nil {
		return Result{}, port.Unrecoverable(action.CloseTicket.String(), "cannot list ticket transitions", err)
	}

	name, ok := PickDoneTransition(available)
	if !ok {
		// No done-like transition in this project's configuration. Ask for a
		// manual close but never fail the workflow over it.
		d.logger.Warn("No done-like transition available",
			zap.String("ticket_ref", inst.TicketRef),
			zap.Strings("available", available))
		if err := d.ticketer.AddComment(ctx, inst.TicketRef,
			"All approvals received, but no closing transition is available. Please close this ticket manually."); err != nil {
			d.logger.Warn("Failed to post manual-close comment", zap.Error(err))
		}
		d.notifyRequesterClosed(ctx, inst)
		return Result{Action: action.CloseTicket, Detail: "manual close requested"}, nil
	}

	if err := d.withRetry(ctx, "apply transition", func() error {
		return d.ticketer.ApplyTransition(ctx, inst.TicketRef, name)
	}); err != nil {
		return Result{}, port.Unrecoverable(action.CloseTicket.String(), fmt.Sprintf("transition %q failed", name), err)
	}

	d.logger.Info("Ticket closed",
		zap.String("ticket_ref", inst.TicketRef),
		zap.String("transition", name))
	d.notifyRequesterClosed(ctx, inst)
	return Result{Action: action.CloseTicket, Detail: name}, nil
}

// postMessage posts the acknowledgement the instance owes its requester.
// One-shot: a second dispatch short-circuits.
func (d *Dispatcher) postMessage(ctx context.Context, inst *entity.WorkflowInstance) (Result, error) {
	if inst.Acknowledged {
		return Result{Action: action.PostMessage, ShortCircuit: true}, nil
	}

	text := fmt.Sprintf("Got it! Processing your request for %s access. I'll open a ticket and collect approvals.",
		inst.Request.AccessRequested)
	if err := d.messenger.PostMessage(ctx, inst.Request.ChannelID, inst.Request.ThreadTS, text); err != nil {
		// Ack is best effort; the workflow proceeds regardless
		d.logger.Warn("Failed to post acknowledgement", zap.Error(err))
	}
	inst.Acknowledged = true
	return Result{Action: action.PostMessage, Detail: "acknowledgement"}, nil
}

func (d *Dispatcher) notifyRequesterClosed(ctx context.Context, inst *entity.WorkflowInstance) {
	text := fmt.Sprintf("Your access request is fully approved and ticket %s is closed. Access to %s granted.",
		d.ticketURL(inst.TicketRef), inst.Request.AccessRequested)
	if err := d.messenger.PostMessage(ctx, inst.Request.ChannelID, inst.Request.ThreadTS, text); err != nil {
		d.logger.Warn("Failed to post completion message", zap.Error(err))
	}
}

// NotifyFailure tells the requester the workflow failed, at most once.
func (d *Dispatcher) NotifyFailure(ctx context.Context, inst *entity.WorkflowInstance) {
	if inst.FailureNotified || inst.FailureReason == "" {
		return
	}
	text := fmt.Sprintf("Sorry, your access request could not be completed: %s", inst.FailureReason)
	if err := d.messenger.PostMessage(ctx, inst.Request.ChannelID, inst.Request.ThreadTS, text); err != nil {
		d.logger.Warn("Failed to post failure notice", zap.Error(err))
		return
	}
	inst.FailureNotified = true
}

func (d *Dispatcher) ticketURL(ref string) string {
	if d.cfg.TicketBaseURL == "" {
		return ref
	}
	return strings.TrimRight(d.cfg.TicketBaseURL, "/") + "/browse/" + ref
}

// withRetry retries transient transport errors with exponential backoff up to
// MaxAttempts. Non-transient errors abort immediately.
func (d *Dispatcher) withRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !port.IsTransient(err) {
			return backoff.Permanent(err)
		}
		d.logger.Warn("Transient failure, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxAttempts-1)), ctx))
}

// buildTicketDescription renders the description contract other components
// rely on: the webhook router reconstructs lost correlation mappings from the
// "Slack Channel"/"Slack Thread" lines.
func buildTicketDescription(inst *entity.WorkflowInstance, approvers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request from: %s\n", inst.Request.RequesterEmail)
	fmt.Fprintf(&b, "Access requested: %s\n", inst.Request.AccessRequested)
	fmt.Fprintf(&b, "Slack Channel: %s\n", inst.Request.ChannelID)
	fmt.Fprintf(&b, "Slack Thread: %s\n", inst.Request.ThreadTS)
	if len(approvers) > 0 {
		fmt.Fprintf(&b, "Required approvers: %s\n", strings.Join(approvers, ","))
	}
	return b.String()
}

var doneLikeStatuses = map[string]bool{
	"done":     true,
	"closed":   true,
	"resolved": true,
	"approved": true,
}

func isDoneLike(status string) bool {
	return doneLikeStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// doneTransitionPreference orders done-like transition names from most to
// least exact. Project configurations vary; the first available match wins.
var doneTransitionPreference = []string{"done", "close", "closed", "resolve", "resolved", "complete", "completed", "approve", "approved"}

// PickDoneTransition selects the closest available done-like transition.
// Preference order is exact-name matches first, then any transition whose
// name contains a done-like word.
func PickDoneTransition(available []string) (string, bool) {
	for _, want := range doneTransitionPreference {
		for _, name := range available {
			if strings.EqualFold(strings.TrimSpace(name), want) {
				return name, true
			}
		}
	}
	for _, want := range doneTransitionPreference {
		for _, name := range available {
			if strings.Contains(strings.ToLower(name), want) {
				return name, true
			}
		}
	}
	return "", false
}
