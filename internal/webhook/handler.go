// Package webhook receives ticket-update callbacks over HTTP and normalizes
// them into inbound events for the router. The handler acknowledges quickly
// and processes asynchronously; delivery noise (unknown tickets, duplicate
// events, non-approval comments) is absorbed downstream.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventSink receives the normalized webhook events. Satisfied by the
// application router.
type EventSink interface {
	Route(ctx context.Context, ev event.Inbound) error
}

// Handler handles ticket webhook requests.
type Handler struct {
	verifier *Verifier
	sink     EventSink
	logger   *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(verifier *Verifier, sink EventSink, logger *zap.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		sink:     sink,
		logger:   logger,
	}
}

// ticketEvent is the subset of the Jira webhook payload we consume.
type ticketEvent struct {
	WebhookEvent string `json:"webhookEvent"`
	Issue        struct {
		Key string `json:"key"`
	} `json:"issue"`
	Comment struct {
		ID     string `json:"id"`
		Body   string `json:"body"`
		Author struct {
			EmailAddress string `json:"emailAddress"`
			DisplayName  string `json:"displayName"`
		} `json:"author"`
	} `json:"comment"`
}

// Handle processes incoming webhook requests.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if !h.verifier.VerifySignature(c.GetHeader("X-Hub-Signature"), body) {
		h.logger.Warn("Invalid webhook signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var payload ticketEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("Failed to parse webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse payload"})
		return
	}

	if !h.verifier.ValidateEventType(payload.WebhookEvent) {
		h.logger.Debug("Unsupported webhook event type ignored",
			zap.String("event_type", payload.WebhookEvent))
		c.JSON(http.StatusOK, gin.H{"message": "Event type not supported"})
		return
	}

	if payload.Issue.Key == "" {
		h.logger.Warn("Webhook payload has no issue key",
			zap.String("event_type", payload.WebhookEvent))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing issue key"})
		return
	}

	ev := h.normalize(payload)
	h.logger.Info("Received ticket webhook",
		zap.String("event_id", ev.ID),
		zap.String("ticket_ref", ev.TicketRef),
		zap.String("event_type", payload.WebhookEvent))

	// Respond before the workflow runs; the source retries slow deliveries
	// and the replay guard makes redelivery harmless.
	go h.process(ev)

	c.JSON(http.StatusOK, gin.H{"message": "Event received"})
}

func (h *Handler) normalize(payload ticketEvent) event.WebhookEvent {
	id := event.NewEventID()
	if payload.Comment.ID != "" {
		// Deterministic ID so redelivered comment events dedupe.
		id = fmt.Sprintf("jira-comment:%s:%s", payload.Issue.Key, payload.Comment.ID)
	}

	author := payload.Comment.Author.EmailAddress
	if author == "" {
		author = payload.Comment.Author.DisplayName
	}

	return event.WebhookEvent{
		ID:            id,
		TicketRef:     payload.Issue.Key,
		CommentAuthor: author,
		CommentText:   payload.Comment.Body,
	}
}

func (h *Handler) process(ev event.WebhookEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in webhook processing", zap.Any("panic", r))
		}
	}()

	if err := h.sink.Route(context.Background(), ev); err != nil {
		h.logger.Error("Failed to process webhook event",
			zap.String("event_id", ev.ID),
			zap.String("ticket_ref", ev.TicketRef),
			zap.Error(err))
	}
}
