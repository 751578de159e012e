package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Embed colours.
const (
	colorOrder = 0x2ECC71
	colorError = 0xE74C3C
	colorInfo  = 0x3498DB
)

// WebhookChannel posts notifications as Discord webhook embeds.
type WebhookChannel struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookChannel creates a WebhookChannel for the given webhook URL.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		enabled: url != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookChannel) Name() string {
	return "discord"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookChannel) IsEnabled() bool {
	return w.enabled
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// Send sends a notification via webhook.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	e := embed{
		Title:       n.Title,
		Description: n.Message,
		Color:       embedColor(n.Type),
		Footer:      &embedFooter{Text: "alertbridge"},
	}
	if !n.Timestamp.IsZero() {
		e.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range n.Fields {
		if f.Value == "" {
			continue
		}
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value, Inline: true})
	}

	body, err := json.Marshal(webhookPayload{Username: "alertbridge", Embeds: []embed{e}})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}

func embedColor(t NotificationType) int {
	switch t {
	case NotificationOrder:
		return colorOrder
	case NotificationError:
		return colorError
	default:
		return colorInfo
	}
}
