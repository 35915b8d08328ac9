package slackbot

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/access-approval/internal/domain/event"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// EventSink receives the inbound events the listener produces. Satisfied by
// the application router.
type EventSink interface {
	Route(ctx context.Context, ev event.Inbound) error
}

// Listener consumes app mention events over Slack socket mode and forwards
// them to the sink. Mentions are processed asynchronously so slow workflow
// runs never delay the socket-mode ack.
type Listener struct {
	api    *slack.Client
	socket *socketmode.Client
	sink   EventSink
	logger *zap.Logger

	mu         sync.Mutex
	emailCache map[string]string
}

// NewListener builds the socket-mode listener. The Slack client must be
// constructed with an app-level token.
func NewListener(api *slack.Client, sink EventSink, logger *zap.Logger) *Listener {
	return &Listener{
		api:        api,
		socket:     socketmode.New(api),
		sink:       sink,
		logger:     logger,
		emailCache: make(map[string]string),
	}
}

// Run blocks consuming socket-mode events until the context is canceled.
func (l *Listener) Run(ctx context.Context) error {
	go l.consume(ctx)

	if err := l.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode terminated: %w", err)
	}
	return nil
}

func (l *Listener) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-l.socket.Events:
			if !ok {
				return
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *Listener) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		l.logger.Info("Slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		l.logger.Warn("Slack socket mode connection error")
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Ack before processing: Slack redelivers unacked envelopes, and the
		// router's replay guard covers duplicates anyway.
		if evt.Request != nil {
			l.socket.Ack(*evt.Request)
		}
		l.handleEventsAPI(ctx, apiEvent)
	}
}

func (l *Listener) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	mention, ok := apiEvent.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		return
	}

	threadTS := mention.ThreadTimeStamp
	if threadTS == "" {
		threadTS = mention.TimeStamp
	}

	ev := event.MentionEvent{
		// Channel plus message timestamp is unique in Slack, so redeliveries
		// of the same mention dedupe to one event.
		ID:          fmt.Sprintf("slack-mention:%s:%s", mention.Channel, mention.TimeStamp),
		ChannelID:   mention.Channel,
		ThreadTS:    threadTS,
		AuthorID:    mention.User,
		AuthorEmail: l.lookupEmail(ctx, mention.User),
		Text:        mention.Text,
	}

	go func() {
		if err := l.sink.Route(ctx, ev); err != nil {
			l.logger.Error("Failed to process mention",
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}()
}

// lookupEmail resolves a Slack user ID to the profile email, caching results.
// An empty email is tolerated; the approver resolver falls back for it.
func (l *Listener) lookupEmail(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}

	l.mu.Lock()
	cached, ok := l.emailCache[userID]
	l.mu.Unlock()
	if ok {
		return cached
	}

	user, err := l.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		l.logger.Warn("Failed to look up Slack user",
			zap.String("user_id", userID),
			zap.Error(err))
		return ""
	}

	l.mu.Lock()
	l.emailCache[userID] = user.Profile.Email
	l.mu.Unlock()
	return user.Profile.Email
}
