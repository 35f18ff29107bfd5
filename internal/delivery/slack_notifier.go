package delivery

import (
	"context"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier delivers messages via the Slack Web API to the channel named
// by the address, or to the configured channel when the address is empty.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackNotifier builds a notifier against the given bot token and
// default channel.
func NewSlackNotifier(token, channelID string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channelID: channelID, logger: logger}
}

func (n *SlackNotifier) Send(ctx context.Context, address, subject, body string) SendResult {
	channelID := n.channelID
	if address != "" {
		channelID = address
	}

	text := subject + "\n" + body
	_, timestamp, err := n.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return classifySlackError(err)
	}
	return SendResult{Outcome: Accepted, MessageID: timestamp}
}

func classifySlackError(err error) SendResult {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rate_limited"), strings.Contains(msg, "internal_error"), strings.Contains(msg, "timeout"):
		return SendResult{Outcome: TransientOutcome, Err: err}
	default:
		return SendResult{Outcome: PermanentOutcome, Err: err}
	}
}
