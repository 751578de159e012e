// Package trading turns channel messages into bracket orders.
package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alertbridge/internal/broker"
	"alertbridge/internal/discord"
	"alertbridge/internal/errors"
	"alertbridge/internal/logging"
	"alertbridge/internal/models"
	"alertbridge/internal/parser"
)

// Notifier receives the outcome of every submitted alert.
type Notifier interface {
	SendOrder(ctx context.Context, alert models.TradeAlert, result *models.OrderResult) error
	SendError(ctx context.Context, alert models.TradeAlert, err error) error
}

// Outcome classifies what happened to a message.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeNotAlert Outcome = "not_alert"
	OutcomePlaced   Outcome = "placed"
	OutcomeFailed   Outcome = "failed"
)

// AlertHandler parses messages from one channel and submits every trade
// alert it finds. It keeps no state between messages.
type AlertHandler struct {
	channelID string
	submitter broker.Submitter
	notifier  Notifier
	location  *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

// HandlerConfig holds AlertHandler settings.
type HandlerConfig struct {
	// ChannelID restricts handling to one channel. Empty accepts any.
	ChannelID string
	// Location is the zone alert dates are read in. Nil means UTC.
	Location *time.Location
	// Now overrides the clock used for year inference.
	Now func() time.Time
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(cfg HandlerConfig, submitter broker.Submitter, notifier Notifier, logger zerolog.Logger) *AlertHandler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AlertHandler{
		channelID: cfg.ChannelID,
		submitter: submitter,
		notifier:  notifier,
		location:  cfg.Location,
		now:       cfg.Now,
		log:       logger.With().Str("component", "alert_handler").Logger(),
	}
}

// OnMessage implements discord.Handler.
func (h *AlertHandler) OnMessage(ctx context.Context, msg discord.Message) {
	h.Handle(ctx, msg)
}

// Handle processes one message and reports what happened to it. Messages from
// bots or other channels are ignored, and text that is not an alert is
// dropped with a debug log line.
func (h *AlertHandler) Handle(ctx context.Context, msg discord.Message) Outcome {
	if msg.AuthorBot || (h.channelID != "" && msg.ChannelID != h.channelID) {
		return OutcomeIgnored
	}

	requestID := uuid.NewString()
	log := logging.WithRequestID(h.log, requestID).With().Str("message_id", msg.ID).Logger()
	ctx = logging.ContextWithRequestID(ctx, requestID)

	alert, err := parser.Parse(msg.Content, h.now().In(h.location))
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) {
			log.Debug().Str("reason", string(pe.Reason)).Str("author", msg.AuthorName).Msg("Message is not a trade alert")
		}
		return OutcomeNotAlert
	}

	log = logging.WithSymbol(log, alert.Symbol)
	logging.LogAlert(log, msg.ID, alert.Contract().String(), alert.EntryPrice.String(), alert.StopPrice.String())

	// Once posted, an order belongs to the brokerage; shutdown must not abort it.
	submitCtx := context.WithoutCancel(ctx)

	result, err := h.submitter.Submit(submitCtx, alert)
	if err != nil {
		event := log.Error().Err(err)
		var se *errors.SubmitError
		if errors.As(err, &se) {
			event = event.Str("kind", string(se.Kind)).Int("status", se.StatusCode).Str("body", logging.MaskSecrets(se.Body))
		}
		event.Msg("Bracket order failed")
		if nerr := h.notifier.SendError(submitCtx, alert, err); nerr != nil {
			log.Warn().Err(nerr).Msg("Failed to send notification")
		}
		return OutcomeFailed
	}

	logging.LogOrder(logging.WithOrderID(log, result.EntryOrderID), result.Symbol, result.EntryOrderID, result.StopOrderID)
	if nerr := h.notifier.SendOrder(submitCtx, alert, result); nerr != nil {
		log.Warn().Err(nerr).Msg("Failed to send notification")
	}
	return OutcomePlaced
}

var _ discord.Handler = (*AlertHandler)(nil)
