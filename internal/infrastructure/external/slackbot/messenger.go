// Package slackbot adapts Slack to the engine's chat contract: a Messenger for
// outbound thread replies and a socket-mode listener that turns app mentions
// into inbound events.
package slackbot

import (
	"context"

	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Messenger implements port.Messenger over the Slack Web API.
type Messenger struct {
	api    *slack.Client
	logger *zap.Logger
}

// NewMessenger wraps an authenticated Slack client.
func NewMessenger(api *slack.Client, logger *zap.Logger) *Messenger {
	return &Messenger{api: api, logger: logger}
}

// PostMessage replies in the request's thread. Slack failures are reported as
// transient so the dispatcher retries them.
func (m *Messenger) PostMessage(ctx context.Context, channelID, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, _, err := m.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return port.Transient("slack post message", err)
	}

	m.logger.Debug("Posted Slack message",
		zap.String("channel", channelID),
		zap.String("thread_ts", threadTS))
	return nil
}

var _ port.Messenger = (*Messenger)(nil)
