package workflow

// State represents a workflow state in the access-request lifecycle
type State string

const (
	StateCreated           State = "CREATED"
	StateTicketOpen        State = "TICKET_OPEN"
	StateApproversNotified State = "APPROVERS_NOTIFIED"
	StateAwaitingApproval  State = "AWAITING_APPROVAL"
	StateApproved          State = "APPROVED"
	StateClosed            State = "CLOSED"
	StateFailed            State = "FAILED"
)

var validStates = map[State]bool{
	StateCreated:           true,
	StateTicketOpen:        true,
	StateApproversNotified: true,
	StateAwaitingApproval:  true,
	StateApproved:          true,
	StateClosed:            true,
	StateFailed:            true,
}

var terminalStates = map[State]bool{
	StateClosed: true,
	StateFailed: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsSuspended returns true if the state waits on an external event rather than
// a tool action. The orchestration loop returns control to the caller here.
func (s State) IsSuspended() bool {
	return s == StateAwaitingApproval
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
