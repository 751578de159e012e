package trading

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"alertbridge/internal/discord"
	"alertbridge/internal/errors"
	"alertbridge/internal/models"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	alerts []models.TradeAlert
	err    error
	ctxErr error
}

func (r *recordingSubmitter) Submit(ctx context.Context, alert models.TradeAlert) (*models.OrderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	r.ctxErr = ctx.Err()
	if r.err != nil {
		return nil, r.err
	}
	return &models.OrderResult{
		EntryOrderID: "1001",
		StopOrderID:  "1002",
		Symbol:       alert.Contract().TradeStationSymbol(),
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []*models.OrderResult
	errs   []error
}

func (r *recordingNotifier) SendOrder(ctx context.Context, alert models.TradeAlert, result *models.OrderResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, result)
	return nil
}

func (r *recordingNotifier) SendError(ctx context.Context, alert models.TradeAlert, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return nil
}

var fixedNow = func() time.Time {
	return time.Date(2024, time.January, 15, 14, 0, 0, 0, time.UTC)
}

const alertText = "AAPL - $250 CALLS EXPIRATION 10/10 $1.29 STOP LOSS AT $1.00"

func newTestHandler(sub *recordingSubmitter, n *recordingNotifier, logger zerolog.Logger) *AlertHandler {
	return NewAlertHandler(HandlerConfig{ChannelID: "42", Now: fixedNow}, sub, n, logger)
}

func TestHandleSubmitsParsedAlert(t *testing.T) {
	sub := &recordingSubmitter{}
	n := &recordingNotifier{}
	h := newTestHandler(sub, n, zerolog.Nop())

	got := h.Handle(context.Background(), discord.Message{ID: "m1", ChannelID: "42", Content: alertText})
	if got != OutcomePlaced {
		t.Fatalf("expected %s, got %s", OutcomePlaced, got)
	}
	if len(sub.alerts) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.alerts))
	}
	alert := sub.alerts[0]
	if alert.Symbol != "AAPL" || alert.OptionType != models.OptionCall {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if want := time.Date(2024, time.October, 10, 0, 0, 0, 0, time.UTC); !alert.Expiration.Equal(want) {
		t.Fatalf("expected expiration %s, got %s", want, alert.Expiration)
	}
	if len(n.orders) != 1 || n.orders[0].StopOrderID != "1002" {
		t.Fatalf("expected order notification, got %+v", n.orders)
	}
}

func TestHandleIgnoresChatter(t *testing.T) {
	tests := []struct {
		name string
		msg  discord.Message
		want Outcome
	}{
		{"plain chat", discord.Message{ChannelID: "42", Content: "good morning everyone"}, OutcomeNotAlert},
		{"stop above entry", discord.Message{ChannelID: "42", Content: "AAPL - $250 CALLS EXPIRATION 10/10 $1.00 STOP LOSS AT $1.50"}, OutcomeNotAlert},
		{"other channel", discord.Message{ChannelID: "7", Content: alertText}, OutcomeIgnored},
		{"bot author", discord.Message{ChannelID: "42", AuthorBot: true, Content: alertText}, OutcomeIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &recordingSubmitter{}
			n := &recordingNotifier{}
			h := newTestHandler(sub, n, zerolog.Nop())

			if got := h.Handle(context.Background(), tt.msg); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if len(sub.alerts) != 0 || len(n.orders) != 0 || len(n.errs) != 0 {
				t.Fatal("expected no submission and no notification")
			}
		})
	}
}

func TestHandleReportsSubmitError(t *testing.T) {
	var buf bytes.Buffer
	sub := &recordingSubmitter{
		err: errors.NewSubmitError(errors.SubmitRejected, "AAPL 241010C250", 400,
			`{"Message":"Insufficient buying power"}`, errors.ErrOrderRejected),
	}
	n := &recordingNotifier{}
	h := newTestHandler(sub, n, zerolog.New(&buf))

	if got := h.Handle(context.Background(), discord.Message{ChannelID: "42", Content: alertText}); got != OutcomeFailed {
		t.Fatalf("expected %s, got %s", OutcomeFailed, got)
	}
	if len(n.errs) != 1 || !errors.Is(n.errs[0], errors.ErrOrderRejected) {
		t.Fatalf("expected rejection to be reported, got %v", n.errs)
	}
	if !strings.Contains(buf.String(), "Insufficient buying power") {
		t.Fatalf("expected brokerage payload in log, got %s", buf.String())
	}
}

func TestHandleSubmissionSurvivesCancellation(t *testing.T) {
	sub := &recordingSubmitter{}
	h := newTestHandler(sub, &recordingNotifier{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Handle(ctx, discord.Message{ChannelID: "42", Content: alertText})

	if sub.ctxErr != nil {
		t.Fatalf("expected submission context to ignore cancellation, got %v", sub.ctxErr)
	}
}

func TestHandleUsesMarketLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	sub := &recordingSubmitter{}
	// 02:00 UTC on Oct 11 is still Oct 10 in New York.
	h := NewAlertHandler(HandlerConfig{
		Location: ny,
		Now:      func() time.Time { return time.Date(2024, time.October, 11, 2, 0, 0, 0, time.UTC) },
	}, sub, &recordingNotifier{}, zerolog.Nop())

	h.OnMessage(context.Background(), discord.Message{Content: alertText})
	if len(sub.alerts) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.alerts))
	}
	if y := sub.alerts[0].Expiration.Year(); y != 2024 {
		t.Fatalf("expected same-day expiration in 2024, got %d", y)
	}
}
