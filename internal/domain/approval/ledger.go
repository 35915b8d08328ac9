// Package approval tracks which approvers have signed off on an instance and
// decides when quorum is met. Recording is idempotent: replayed events and
// repeat approvals never change the outcome.
package approval

import (
	"strings"

	"github.com/garyjia/access-approval/internal/domain/entity"
	"go.uber.org/zap"
)

// Quorum decides whether the recorded approvals are sufficient. The default
// policy is unanimity; AnyN supports "any N of M" without changing callers.
type Quorum func(required []string, approved map[string]string) bool

// Unanimous requires every required approver to be present in the ledger.
func Unanimous(required []string, approved map[string]string) bool {
	if len(required) == 0 {
		return false
	}
	for _, r := range required {
		if _, ok := approved[r]; !ok {
			return false
		}
	}
	return true
}

// AnyN returns a quorum satisfied by any n distinct required approvers.
func AnyN(n int) Quorum {
	return func(required []string, approved map[string]string) bool {
		if n <= 0 || len(required) == 0 {
			return false
		}
		count := 0
		for _, r := range required {
			if _, ok := approved[r]; ok {
				count++
			}
		}
		return count >= n
	}
}

// Ledger applies approval signals to workflow instances.
type Ledger struct {
	quorum Quorum
	logger *zap.Logger
}

// NewLedger creates a ledger with the given quorum policy.
func NewLedger(quorum Quorum, logger *zap.Logger) *Ledger {
	if quorum == nil {
		quorum = Unanimous
	}
	return &Ledger{quorum: quorum, logger: logger}
}

// Record registers an approval signal against the instance. It returns true
// only when the ledger actually changed. No change happens when:
//   - the event ID was already applied to this instance (replay),
//   - the approver already has a ledger entry,
//   - the approver is not in the required set (unsolicited; logged, not counted).
func (l *Ledger) Record(inst *entity.WorkflowInstance, approverIdentity, eventID string) bool {
	if inst.HasSeenEvent(eventID) {
		l.logger.Debug("Ignoring replayed approval event",
			zap.String("correlation_key", inst.CorrelationKey),
			zap.String("event_id", eventID))
		return false
	}

	if !inst.IsRequiredApprover(approverIdentity) {
		l.logger.Warn("Unsolicited approval ignored",
			zap.String("correlation_key", inst.CorrelationKey),
			zap.String("approver", approverIdentity))
		return false
	}

	if _, ok := inst.ApprovalLedger[approverIdentity]; ok {
		return false
	}

	if inst.ApprovalLedger == nil {
		inst.ApprovalLedger = make(map[string]string)
	}
	inst.ApprovalLedger[approverIdentity] = eventID

	l.logger.Info("Approval recorded",
		zap.String("correlation_key", inst.CorrelationKey),
		zap.String("approver", approverIdentity),
		zap.Int("approvals", len(inst.ApprovalLedger)),
		zap.Int("required", len(inst.RequiredApprovers)))
	return true
}

// QuorumMet reports whether the instance's ledger satisfies the quorum policy.
func (l *Ledger) QuorumMet(inst *entity.WorkflowInstance) bool {
	return l.quorum(inst.RequiredApprovers, inst.ApprovalLedger)
}

// Pending returns the required approvers without a ledger entry, in the
// required order.
func (l *Ledger) Pending(inst *entity.WorkflowInstance) []string {
	pending := make([]string, 0, len(inst.RequiredApprovers))
	for _, r := range inst.RequiredApprovers {
		if _, ok := inst.ApprovalLedger[r]; !ok {
			pending = append(pending, r)
		}
	}
	return pending
}

// ApprovedPredicate decides whether a comment body is an approval signal.
type ApprovedPredicate func(text string) bool

// ContainsApproved is the default predicate: case-insensitive containment of
// the word "approved".
func ContainsApproved(text string) bool {
	return strings.Contains(strings.ToLower(text), "approved")
}
