package entity

import (
	"fmt"
	"time"

	"github.com/garyjia/access-approval/internal/domain/workflow"
)

// RequestDetails describes what access was requested and by whom.
// Seeded from the originating chat mention and immutable afterwards.
type RequestDetails struct {
	RequesterID     string `json:"requester_id"`
	RequesterEmail  string `json:"requester_email"`
	AccessRequested string `json:"access_requested"`
	RawText         string `json:"raw_text"`
	ChannelID       string `json:"channel_id"`
	ThreadTS        string `json:"thread_ts"`
}

// AppliedEvent is one entry in an instance's append-only history.
type AppliedEvent struct {
	EventID   string    `json:"event_id"`
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary"`
	AppliedAt time.Time `json:"applied_at"`
}

// WorkflowInstance is the unit of work: one access request moving through the
// approval lifecycle. All mutation happens under the correlation store's
// per-key lock.
type WorkflowInstance struct {
	CorrelationKey    string            `json:"correlation_key"`
	State             workflow.State    `json:"state"`
	Request           RequestDetails    `json:"request"`
	TicketRef         string            `json:"ticket_ref,omitempty"`
	RequiredApprovers []string          `json:"required_approvers,omitempty"`
	ApprovalLedger    map[string]string `json:"approval_ledger,omitempty"` // approver identity -> event ID that recorded it
	History           []AppliedEvent    `json:"history,omitempty"`
	Acknowledged      bool              `json:"acknowledged"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	FailureNotified   bool              `json:"failure_notified"`
	StateEnteredAt    time.Time         `json:"state_entered_at"`
	ReminderSentAt    time.Time         `json:"reminder_sent_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewWorkflowInstance creates an instance in the CREATED state.
func NewWorkflowInstance(correlationKey string, request RequestDetails) *WorkflowInstance {
	now := time.Now()
	return &WorkflowInstance{
		CorrelationKey: correlationKey,
		State:          workflow.StateCreated,
		Request:        request,
		ApprovalLedger: make(map[string]string),
		StateEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Terminal reports whether the workflow reached CLOSED or FAILED.
func (w *WorkflowInstance) Terminal() bool {
	return w.State.IsTerminal()
}

// SetTicketRef records the externally issued ticket reference. The reference
// is set at most once and never cleared.
func (w *WorkflowInstance) SetTicketRef(ref string) error {
	if w.TicketRef != "" && w.TicketRef != ref {
		return fmt.Errorf("ticket reference already set to %s, refusing %s", w.TicketRef, ref)
	}
	w.TicketRef = ref
	return nil
}

// SetRequiredApprovers records the computed approver set. Recomputation for an
// already-notified instance is a no-op so resuming never changes the set.
func (w *WorkflowInstance) SetRequiredApprovers(approvers []string) {
	if len(w.RequiredApprovers) > 0 {
		return
	}
	w.RequiredApprovers = append([]string(nil), approvers...)
}

// IsRequiredApprover reports whether identity is part of the computed approver set.
func (w *WorkflowInstance) IsRequiredApprover(identity string) bool {
	for _, a := range w.RequiredApprovers {
		if a == identity {
			return true
		}
	}
	return false
}

// HasSeenEvent reports whether an event ID was already applied to this
// instance. Guards against duplicate webhook delivery.
func (w *WorkflowInstance) HasSeenEvent(eventID string) bool {
	for _, e := range w.History {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

// AppendHistory records an applied event. Callers check HasSeenEvent first.
func (w *WorkflowInstance) AppendHistory(eventID, kind, summary string) {
	w.History = append(w.History, AppliedEvent{
		EventID:   eventID,
		Kind:      kind,
		Summary:   summary,
		AppliedAt: time.Now(),
	})
	w.UpdatedAt = time.Now()
}

// EnterState moves the instance to a new state and stamps the entry time.
func (w *WorkflowInstance) EnterState(s workflow.State) {
	if s == w.State {
		return
	}
	w.State = s
	w.StateEnteredAt = time.Now()
	w.UpdatedAt = w.StateEnteredAt
}

// MarkFailed moves the instance to FAILED with a human-readable reason.
func (w *WorkflowInstance) MarkFailed(reason string) {
	w.EnterState(workflow.StateFailed)
	w.FailureReason = reason
}
