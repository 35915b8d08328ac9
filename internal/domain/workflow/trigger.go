package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerOpenTicket      Trigger = "OPEN_TICKET"
	TriggerNotifyApprovers Trigger = "NOTIFY_APPROVERS"
	TriggerAwait           Trigger = "AWAIT"
	TriggerApprovalSignal  Trigger = "APPROVAL_SIGNAL"
	TriggerQuorumMet       Trigger = "QUORUM_MET"
	TriggerClose           Trigger = "CLOSE"
	TriggerFail            Trigger = "FAIL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
