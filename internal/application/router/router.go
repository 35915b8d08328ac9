// Package router resolves inbound events to workflow instances and re-enters
// the orchestration loop. It absorbs the noise classes of the event sources:
// duplicate deliveries, webhooks for untracked tickets, and comments that are
// not approval signals. None of those propagate to the transports.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/access-approval/internal/application/engine"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/approval"
	"github.com/garyjia/access-approval/internal/domain/entity"
	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/garyjia/access-approval/internal/domain/workflow"
	"go.uber.org/zap"
)

// Router maps inbound events onto workflow instances via the correlation
// store and resumes the orchestration loop.
type Router struct {
	store    port.CorrelationStore
	engine   *engine.Engine
	ledger   *approval.Ledger
	ticketer port.Ticketer
	resolver port.ApproverResolver
	approved approval.ApprovedPredicate
	logger   *zap.Logger
}

// New creates an event router.
func New(
	store port.CorrelationStore,
	eng *engine.Engine,
	ledger *approval.Ledger,
	ticketer port.Ticketer,
	resolver port.ApproverResolver,
	approved approval.ApprovedPredicate,
	logger *zap.Logger,
) *Router {
	if approved == nil {
		approved = approval.ContainsApproved
	}
	return &Router{
		store:    store,
		engine:   eng,
		ledger:   ledger,
		ticketer: ticketer,
		resolver: resolver,
		approved: approved,
		logger:   logger,
	}
}

// Route processes one inbound event to completion or suspension.
func (r *Router) Route(ctx context.Context, ev event.Inbound) error {
	switch ev := ev.(type) {
	case event.MentionEvent:
		return r.routeMention(ctx, ev)
	case event.WebhookEvent:
		return r.routeWebhook(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind: %T", ev)
	}
}

func (r *Router) routeMention(ctx context.Context, ev event.MentionEvent) error {
	key := ev.CorrelationKey()

	release := r.store.Lock(key)
	defer release()

	inst, created, err := r.store.ResolveOrCreate(ctx, key, func() *entity.WorkflowInstance {
		return entity.NewWorkflowInstance(key, entity.RequestDetails{
			RequesterID:     ev.AuthorID,
			RequesterEmail:  ev.AuthorEmail,
			AccessRequested: extractAccessRequest(ev.Text),
			RawText:         ev.Text,
			ChannelID:       ev.ChannelID,
			ThreadTS:        ev.ThreadTS,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to resolve workflow for mention: %w", err)
	}

	if inst.HasSeenEvent(ev.ID) {
		r.logger.Debug("Duplicate mention event ignored",
			zap.String("correlation_key", key),
			zap.String("event_id", ev.ID))
		return nil
	}

	inst.AppendHistory(ev.ID, string(event.KindMention), truncate(ev.Text, 120))

	if created {
		r.logger.Info("Workflow instance created",
			zap.String("correlation_key", key),
			zap.String("requester", inst.Request.RequesterEmail),
			zap.String("access", inst.Request.AccessRequested))
	} else if inst.Terminal() {
		r.logger.Info("Mention on terminal workflow ignored",
			zap.String("correlation_key", key),
			zap.String("state", inst.State.String()))
		return r.store.Save(ctx, inst)
	}

	if err := r.store.Save(ctx, inst); err != nil {
		return err
	}

	return r.engine.Run(ctx, inst)
}

func (r *Router) routeWebhook(ctx context.Context, ev event.WebhookEvent) error {
	inst, err := r.store.GetByTicket(ctx, ev.TicketRef)
	if errors.Is(err, port.ErrNotFound) {
		inst, err = r.reconstruct(ctx, ev.TicketRef)
		if err != nil {
			// Webhook for an issue we do not track. Not an error for the
			// caller: log and discard.
			r.logger.Warn("Webhook for untracked ticket discarded",
				zap.String("ticket_ref", ev.TicketRef),
				zap.String("event_id", ev.ID))
			return nil
		}
	} else if err != nil {
		return fmt.Errorf("failed to resolve workflow for ticket %s: %w", ev.TicketRef, err)
	}

	key := inst.CorrelationKey
	release := r.store.Lock(key)
	defer release()

	// Re-read under the key lock: another event may have advanced the
	// instance between lookup and lock acquisition.
	inst, err = r.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to re-read instance %s: %w", key, err)
	}

	if inst.Terminal() {
		r.logger.Debug("Webhook on terminal workflow ignored",
			zap.String("correlation_key", key),
			zap.String("state", inst.State.String()))
		return nil
	}

	if inst.HasSeenEvent(ev.ID) {
		r.logger.Debug("Duplicate webhook event ignored",
			zap.String("correlation_key", key),
			zap.String("event_id", ev.ID))
		return nil
	}

	if r.approved(ev.CommentText) {
		r.ledger.Record(inst, ev.CommentAuthor, ev.ID)
	}
	inst.AppendHistory(ev.ID, string(event.KindWebhook),
		fmt.Sprintf("%s: %s", ev.CommentAuthor, truncate(ev.CommentText, 120)))

	if err := r.store.Save(ctx, inst); err != nil {
		return err
	}

	return r.engine.Run(ctx, inst)
}

// reconstruct rebuilds the correlation mapping for a ticket the store does not
// know, from the contract lines embedded in the ticket description at creation
// time. Lets the engine re-adopt in-flight tickets after a restart with a
// volatile store.
func (r *Router) reconstruct(ctx context.Context, ticketRef string) (*entity.WorkflowInstance, error) {
	desc, err := r.ticketer.GetDescription(ctx, ticketRef)
	if err != nil {
		return nil, fmt.Errorf("cannot read ticket description: %w", err)
	}

	fields := parseDescription(desc)
	channel, thread := fields["slack channel"], fields["slack thread"]
	if channel == "" || thread == "" {
		return nil, fmt.Errorf("ticket %s has no correlation mapping in its description", ticketRef)
	}

	request := entity.RequestDetails{
		RequesterEmail:  fields["request from"],
		AccessRequested: fields["access requested"],
		ChannelID:       channel,
		ThreadTS:        thread,
	}

	key := event.ThreadKey(channel, thread)
	release := r.store.Lock(key)
	defer release()

	inst, created, err := r.store.ResolveOrCreate(ctx, key, func() *entity.WorkflowInstance {
		rebuilt := entity.NewWorkflowInstance(key, request)
		_ = rebuilt.SetTicketRef(ticketRef)
		if approvers, rerr := r.resolver.Resolve(ctx, request); rerr == nil {
			rebuilt.SetRequiredApprovers(approvers)
		}
		rebuilt.Acknowledged = true
		rebuilt.EnterState(workflow.StateAwaitingApproval)
		return rebuilt
	})
	if err != nil {
		return nil, err
	}
	if created {
		r.logger.Info("Reconstructed workflow mapping from ticket description",
			zap.String("ticket_ref", ticketRef),
			zap.String("correlation_key", key))
		if err := r.store.Save(ctx, inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// extractAccessRequest strips the bot mention token from the message text; the
// remainder is the free-form access request.
func extractAccessRequest(text string) string {
	cleaned := text
	for {
		start := strings.Index(cleaned, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(cleaned[start:], ">")
		if end < 0 {
			break
		}
		cleaned = cleaned[:start] + cleaned[start+end+1:]
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "unspecified"
	}
	return cleaned
}

func parseDescription(desc string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(desc, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return fields
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
