// Package action names the side-effecting tools the dispatcher can execute
// against a workflow instance.
package action

// Name identifies a dispatchable tool action
type Name string

const (
	CreateTicket    Name = "create_ticket"
	NotifyApprovers Name = "notify_approvers"
	CheckApprovals  Name = "check_approvals"
	CloseTicket     Name = "close_ticket"
	PostMessage     Name = "post_message"
)

var validNames = map[Name]bool{
	CreateTicket:    true,
	NotifyApprovers: true,
	CheckApprovals:  true,
	CloseTicket:     true,
	PostMessage:     true,
}

// String returns the string representation of the action name
func (n Name) String() string {
	return string(n)
}

// IsValid returns true if the name is a defined action
func (n Name) IsValid() bool {
	return validNames[n]
}

// Request is what the tool-selection policy proposes to the dispatcher.
type Request struct {
	Action Name
	Reason string
}

// IdempotencyKey derives the key used to detect and collapse duplicate
// invocations of the same logical action against the same instance.
func IdempotencyKey(correlationKey string, name Name) string {
	return correlationKey + "|" + string(name)
}
