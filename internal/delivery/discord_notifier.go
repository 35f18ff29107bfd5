package delivery

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier delivers messages to the Discord channel named by the
// address, or to the configured channel when the address is empty. It only
// sends: the pipeline's external interfaces are host-process operations
// (§6), not inbound chat commands.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier opens a Discord session for the configured bot token.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: channelID, logger: logger}, nil
}

// Close releases the underlying Discord session.
func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}

func (n *DiscordNotifier) Send(ctx context.Context, address, subject, body string) SendResult {
	channelID := n.channelID
	if address != "" {
		channelID = address
	}

	embed := &discordgo.MessageEmbed{
		Title:       subject,
		Description: body,
		Color:       0x3498db,
	}

	msg, err := n.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil {
		return classifyDiscordError(err)
	}
	return SendResult{Outcome: Accepted, MessageID: msg.ID}
}

func classifyDiscordError(err error) SendResult {
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
		switch {
		case restErr.Response.StatusCode == 429, restErr.Response.StatusCode >= 500:
			return SendResult{Outcome: TransientOutcome, Err: err}
		default:
			return SendResult{Outcome: PermanentOutcome, Err: err}
		}
	}
	return SendResult{Outcome: TransientOutcome, Err: err}
}
