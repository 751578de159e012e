// Package notify reports order outcomes to operators over Discord webhooks,
// Telegram and the application log.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"alertbridge/internal/config"
	"alertbridge/internal/errors"
	"alertbridge/internal/logging"
	"alertbridge/internal/models"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendOrder(ctx context.Context, alert models.TradeAlert, result *models.OrderResult) error
	SendError(ctx context.Context, alert models.TradeAlert, err error) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Fields    []Field
	Timestamp time.Time
}

// Field is a labelled value shown alongside the message.
type Field struct {
	Name  string
	Value string
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationOrder NotificationType = "order"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
}

// NewMultiNotifier builds a notifier from the configured channels. The log
// channel is always present.
func NewMultiNotifier(cfg config.NotifyConfig, logger zerolog.Logger) (*MultiNotifier, error) {
	mn := &MultiNotifier{
		channels: []NotificationChannel{NewLogChannel(logger)},
	}

	if cfg.DiscordWebhook != "" {
		mn.channels = append(mn.channels, NewWebhookChannel(cfg.DiscordWebhook))
	}
	if cfg.TelegramToken != "" {
		tg, err := NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, errors.Wrap(err, "creating telegram channel")
		}
		mn.channels = append(mn.channels, tg)
	}

	return mn, nil
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Send sends a notification to all enabled channels. A failing channel does
// not prevent delivery to the others.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var errs []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendOrder reports an accepted bracket order.
func (mn *MultiNotifier) SendOrder(ctx context.Context, alert models.TradeAlert, result *models.OrderResult) error {
	return mn.Send(ctx, OrderNotification(alert, result))
}

// SendError reports a failed submission.
func (mn *MultiNotifier) SendError(ctx context.Context, alert models.TradeAlert, err error) error {
	return mn.Send(ctx, ErrorNotification(alert, err))
}

// OrderNotification describes an accepted bracket order.
func OrderNotification(alert models.TradeAlert, result *models.OrderResult) Notification {
	return Notification{
		Type:    NotificationOrder,
		Title:   "✅ Bracket order placed: " + alert.Contract().String(),
		Message: result.Message,
		Fields: []Field{
			{"Symbol", result.Symbol},
			{"Entry", "$" + alert.EntryPrice.StringFixed(2)},
			{"Stop", "$" + alert.StopPrice.StringFixed(2)},
			{"Entry order", result.EntryOrderID},
			{"Stop order", result.StopOrderID},
		},
		Timestamp: result.SubmittedAt,
	}
}

// StartupNotification announces that the bridge is listening.
func StartupNotification(channelID, account string, dryRun bool) Notification {
	mode := "live"
	if dryRun {
		mode = "dry run"
	}
	return Notification{
		Type:    NotificationInfo,
		Title:   "🟢 Alert bridge started",
		Message: "Watching for trade alerts",
		Fields: []Field{
			{"Channel", channelID},
			{"Account", account},
			{"Mode", mode},
		},
	}
}

// ErrorNotification describes a failed submission. Response bodies are
// masked before they leave the process.
func ErrorNotification(alert models.TradeAlert, err error) Notification {
	fields := []Field{
		{"Symbol", alert.Contract().TradeStationSymbol()},
		{"Entry", "$" + alert.EntryPrice.StringFixed(2)},
		{"Stop", "$" + alert.StopPrice.StringFixed(2)},
	}

	var se *errors.SubmitError
	if errors.As(err, &se) {
		fields = append(fields, Field{"Failure", string(se.Kind)})
		if se.StatusCode != 0 {
			fields = append(fields, Field{"Status", fmt.Sprint(se.StatusCode)})
		}
	}

	return Notification{
		Type:    NotificationError,
		Title:   "❌ Bracket order failed: " + alert.Contract().String(),
		Message: truncate(logging.MaskSecrets(err.Error()), 1500),
		Fields:  fields,
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

// LogChannel writes notifications to the application log.
type LogChannel struct {
	log zerolog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{log: logger.With().Str("component", "notify").Logger()}
}

// Name returns the name of the notifier.
func (l *LogChannel) Name() string {
	return "log"
}

// IsEnabled returns whether the notifier is enabled.
func (l *LogChannel) IsEnabled() bool {
	return true
}

// Send logs n at info, or error for failures.
func (l *LogChannel) Send(ctx context.Context, n Notification) error {
	event := l.log.Info()
	if n.Type == NotificationError {
		event = l.log.Error()
	}
	for _, f := range n.Fields {
		event = event.Str(strings.ToLower(strings.ReplaceAll(f.Name, " ", "_")), f.Value)
	}
	event.Str("type", string(n.Type)).Str("detail", n.Message).Msg(n.Title)
	return nil
}

var _ Notifier = (*MultiNotifier)(nil)
