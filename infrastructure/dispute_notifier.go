package infrastructure

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"palomas/events"
	"palomas/models"
)

// maxMessageLength is Discord's per-message content limit
const maxMessageLength = 2000

// ChannelMessenger is the part of *discordgo.Session the notifier uses
type ChannelMessenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DisputeNotifier posts escrow alerts to the facilitators' channel
type DisputeNotifier struct {
	messenger ChannelMessenger
	channelID string
}

// NewDiscordSession opens a bot session used only for sending alerts
func NewDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open Discord session: %w", err)
	}
	return session, nil
}

// NewDisputeNotifier creates a notifier posting to channelID
func NewDisputeNotifier(messenger ChannelMessenger, channelID string) *DisputeNotifier {
	return &DisputeNotifier{
		messenger: messenger,
		channelID: channelID,
	}
}

// Register subscribes the notifier to escrow transitions
func (n *DisputeNotifier) Register(bus *events.Bus) {
	bus.Subscribe(events.EventTypeEscrowStateChange, n.HandleEscrowStateChange)
}

// HandleEscrowStateChange posts an alert when an escrow enters the disputed state
func (n *DisputeNotifier) HandleEscrowStateChange(ctx context.Context, event events.Event) {
	change, ok := event.(events.EscrowStateChangeEvent)
	if !ok || change.NewStatus != models.EscrowStatusDisputed {
		return
	}

	content := fmt.Sprintf("⚖️ **Dispute opened** on escrow `%s`\nSender `%s` → recipient `%s`\nHeld: **%s palomas**",
		change.EscrowID, change.SenderID, change.RecipientID, FormatPalomas(change.PendingAmount))
	if change.Notes != "" {
		content += "\n> " + strings.ReplaceAll(change.Notes, "\n", "\n> ")
	}

	if err := n.send(content); err != nil {
		log.WithFields(log.Fields{
			"escrowID":  change.EscrowID,
			"channelID": n.channelID,
		}).WithError(err).Error("Failed to post dispute alert")
		return
	}
	log.WithField("escrowID", change.EscrowID).Info("Posted dispute alert")
}

// NotifyOverdue posts a digest of escrows past their expected delivery date
func (n *DisputeNotifier) NotifyOverdue(ctx context.Context, escrows []*models.EggsTransaction) error {
	if len(escrows) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ **%d overdue escrow(s)**", len(escrows))
	for _, escrow := range escrows {
		line := fmt.Sprintf("\n• `%s` %s, due %s, holding **%s palomas**",
			escrow.ID, escrow.Status, FormatDiscordTimestamp(escrow.ExpectedDeliveryDate, "R"), FormatPalomas(escrow.PendingAmount))
		if b.Len()+len(line) > maxMessageLength-len("\n…") {
			b.WriteString("\n…")
			break
		}
		b.WriteString(line)
	}

	if err := n.send(b.String()); err != nil {
		return fmt.Errorf("failed to post overdue digest: %w", err)
	}
	return nil
}

func (n *DisputeNotifier) send(content string) error {
	if runes := []rune(content); len(runes) > maxMessageLength {
		content = string(runes[:maxMessageLength-1]) + "…"
	}
	_, err := n.messenger.ChannelMessageSend(n.channelID, content)
	return err
}
