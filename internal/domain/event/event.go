// Package event defines the inbound events that drive workflow instances:
// chat mentions and ticket-update webhooks. Both carry a unique event ID used
// for deduplication and a correlation hint used by the router.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies the type of inbound event
type Kind string

const (
	KindMention Kind = "mention"
	KindWebhook Kind = "webhook"
)

// Inbound is the tagged union of mention and webhook events.
type Inbound interface {
	// EventID returns the unique identifier used for replay detection
	EventID() string

	// Kind returns the event kind tag
	Kind() Kind
}

// MentionEvent is delivered by the chat transport when the bot is @mentioned.
type MentionEvent struct {
	ID          string
	ChannelID   string
	ThreadTS    string
	AuthorID    string
	AuthorEmail string
	Text        string
}

func (e MentionEvent) EventID() string { return e.ID }
func (e MentionEvent) Kind() Kind      { return KindMention }

// CorrelationKey derives the stable workflow identity from the conversation
// thread. All future events for this request map back through this key.
func (e MentionEvent) CorrelationKey() string {
	return ThreadKey(e.ChannelID, e.ThreadTS)
}

// WebhookEvent is delivered by the ticketing transport when a tracked (or
// untracked) issue is commented on or updated.
type WebhookEvent struct {
	ID            string
	TicketRef     string
	CommentAuthor string
	CommentText   string
}

func (e WebhookEvent) EventID() string { return e.ID }
func (e WebhookEvent) Kind() Kind      { return KindWebhook }

// ThreadKey builds the correlation key for a chat thread.
func ThreadKey(channelID, threadTS string) string {
	return fmt.Sprintf("slack-%s#%s", channelID, threadTS)
}

// NewEventID generates an event ID for synthesized events and for transports
// that do not supply one.
func NewEventID() string {
	return uuid.NewString()
}
