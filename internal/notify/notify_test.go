package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"alertbridge/internal/config"
	"alertbridge/internal/errors"
	"alertbridge/internal/models"
)

func testAlert(t *testing.T) models.TradeAlert {
	t.Helper()
	alert, err := models.NewTradeAlert("AAPL", models.OptionCall,
		decimal.RequireFromString("250"),
		time.Date(2024, time.October, 10, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString("1.29"),
		decimal.RequireFromString("1.00"))
	if err != nil {
		t.Fatal(err)
	}
	return alert
}

func testResult() *models.OrderResult {
	return &models.OrderResult{
		EntryOrderID: "924243071",
		StopOrderID:  "924243072",
		Symbol:       "AAPL 241010C250",
		Message:      "Sent order",
		SubmittedAt:  time.Date(2024, time.October, 1, 14, 30, 0, 0, time.UTC),
	}
}

type fakeSender struct {
	messages map[int64][]string
	err      error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.messages == nil {
		f.messages = make(map[int64][]string)
	}

	chat, ok := to.(*tele.Chat)
	if !ok {
		return nil, fmt.Errorf("unexpected recipient type %T", to)
	}
	f.messages[chat.ID] = append(f.messages[chat.ID], fmt.Sprint(what))
	return &tele.Message{}, nil
}

type failingChannel struct{ calls int }

func (f *failingChannel) Name() string    { return "broken" }
func (f *failingChannel) IsEnabled() bool { return true }
func (f *failingChannel) Send(ctx context.Context, n Notification) error {
	f.calls++
	return errors.New("unreachable")
}

func TestWebhookChannelPostsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL)
	if err := ch.Send(context.Background(), OrderNotification(testAlert(t), testResult())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.Embeds) != 1 {
		t.Fatalf("expected one embed, got %+v", got)
	}
	e := got.Embeds[0]
	if e.Color != colorOrder || !strings.Contains(e.Title, "AAPL 10/10/24 250 CALL") {
		t.Fatalf("unexpected embed %+v", e)
	}
	if e.Timestamp != "2024-10-01T14:30:00Z" {
		t.Fatalf("unexpected timestamp %q", e.Timestamp)
	}
	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Entry order"] != "924243071" || fields["Stop order"] != "924243072" || fields["Entry"] != "$1.29" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestWebhookChannelReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL).Send(context.Background(), Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}

	if NewWebhookChannel("").IsEnabled() {
		t.Fatal("empty webhook URL must disable the channel")
	}
}

func TestTelegramChannelFormatsHTML(t *testing.T) {
	sender := &fakeSender{}
	ch := newTelegramChannel(sender, 42)

	alert := testAlert(t)
	err := errors.NewSubmitError(errors.SubmitRejected, "AAPL 241010C250", 400, `{"Message":"<bad> & rejected"}`, errors.ErrOrderRejected)
	if err := ch.Send(context.Background(), ErrorNotification(alert, err)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := sender.messages[42]
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %v", sender.messages)
	}
	msg := msgs[0]
	if !strings.HasPrefix(msg, "<b>❌ Bracket order failed") {
		t.Fatalf("unexpected title in %q", msg)
	}
	if !strings.Contains(msg, "Failure: <code>rejected</code>") || !strings.Contains(msg, "Status: <code>400</code>") {
		t.Fatalf("missing submit details in %q", msg)
	}
	if strings.Contains(msg, "<bad>") {
		t.Fatalf("response body must be escaped: %q", msg)
	}
}

func TestTelegramChannelDisabledWithoutChat(t *testing.T) {
	sender := &fakeSender{}
	ch := newTelegramChannel(sender, 0)
	if ch.IsEnabled() {
		t.Fatal("expected disabled channel")
	}
	if err := ch.Send(context.Background(), Notification{Title: "x"}); err != nil || len(sender.messages) != 0 {
		t.Fatalf("disabled channel must not send, err=%v", err)
	}
}

func TestMultiNotifierDeliversDespiteFailures(t *testing.T) {
	var buf bytes.Buffer
	broken := &failingChannel{}
	sender := &fakeSender{}
	mn := &MultiNotifier{channels: []NotificationChannel{
		NewLogChannel(zerolog.New(&buf)),
		broken,
		newTelegramChannel(sender, 7),
	}}

	err := mn.SendOrder(context.Background(), testAlert(t), testResult())
	if err == nil || !strings.Contains(err.Error(), "broken: unreachable") {
		t.Fatalf("expected aggregated error, got %v", err)
	}
	if broken.calls != 1 || len(sender.messages[7]) != 1 {
		t.Fatalf("expected every channel to be tried, broken=%d telegram=%d", broken.calls, len(sender.messages[7]))
	}
	if !strings.Contains(buf.String(), `"entry_order":"924243071"`) {
		t.Fatalf("expected log channel output, got %s", buf.String())
	}
	if got := strings.Join(mn.Channels(), ","); got != "log,broken,telegram" {
		t.Fatalf("unexpected channels %q", got)
	}
}

func TestErrorNotificationMasksSecrets(t *testing.T) {
	err := errors.NewSubmitError(errors.SubmitAuthFailed, "AAPL 241010C250", 0, "",
		errors.NewAuthError(401, `{"error":"invalid_grant","refresh_token":"abcdefghijklmnop"}`, nil))
	n := ErrorNotification(testAlert(t), err)
	if strings.Contains(n.Message, "abcdefghijklmnop") {
		t.Fatalf("secret leaked into notification: %q", n.Message)
	}
	if n.Type != NotificationError {
		t.Fatalf("unexpected type %s", n.Type)
	}
}

func TestStartupNotificationUsesInfoColor(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := StartupNotification("123", "SIM123456", true)
	if err := NewWebhookChannel(srv.URL).Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Color != colorInfo {
		t.Fatalf("expected one info embed, got %+v", got)
	}
	var mode string
	for _, f := range n.Fields {
		if f.Name == "Mode" {
			mode = f.Value
		}
	}
	if mode != "dry run" {
		t.Fatalf("expected dry run mode, got %q", mode)
	}
}

func TestTruncateKeepsUTF8Valid(t *testing.T) {
	s := strings.Repeat("é", 10) // two bytes each
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%d) produced invalid UTF-8 %q", n, got)
		}
		if n < len(s) && len(strings.TrimSuffix(got, "…")) > n {
			t.Fatalf("truncate(%d) kept %d bytes", n, len(got))
		}
	}
	if truncate("short", 10) != "short" {
		t.Fatal("short strings must be unchanged")
	}

	msg := ErrorNotification(testAlert(t), errors.New(strings.Repeat("錯", 600))).Message
	if !utf8.ValidString(msg) {
		t.Fatalf("error notification message is not valid UTF-8")
	}
}

func TestNewMultiNotifierAlwaysLogs(t *testing.T) {
	mn, err := NewMultiNotifier(config.NotifyConfig{DiscordWebhook: "http://example.invalid/hook"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(mn.Channels(), ","); got != "log,discord" {
		t.Fatalf("unexpected channels %q", got)
	}
}
