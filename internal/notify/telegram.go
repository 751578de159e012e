package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v3"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramChannel sends notifications to one Telegram chat.
type TelegramChannel struct {
	sender messageSender
	chatID int64
}

// NewTelegramChannel creates a TelegramChannel. The bot runs offline: it only
// sends and never polls for updates.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:     token,
		Offline:   true,
		ParseMode: tele.ModeHTML,
	})
	if err != nil {
		return nil, err
	}
	return newTelegramChannel(b, chatID), nil
}

func newTelegramChannel(sender messageSender, chatID int64) *TelegramChannel {
	return &TelegramChannel{sender: sender, chatID: chatID}
}

// Name returns the name of the notifier.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramChannel) IsEnabled() bool {
	return t.sender != nil && t.chatID != 0
}

// Send sends a notification via Telegram.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.sender.Send(&tele.Chat{ID: t.chatID}, formatTelegram(n)); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

func formatTelegram(n Notification) string {
	var sb strings.Builder
	sb.WriteString("<b>" + html.EscapeString(n.Title) + "</b>")
	if n.Message != "" {
		sb.WriteString("\n\n" + html.EscapeString(n.Message))
	}
	if len(n.Fields) > 0 {
		sb.WriteString("\n")
	}
	for _, f := range n.Fields {
		if f.Value == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n%s: <code>%s</code>", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	return sb.String()
}
