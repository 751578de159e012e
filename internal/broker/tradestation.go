package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alertbridge/internal/errors"
	"alertbridge/internal/logging"
	"alertbridge/internal/models"
)

// DefaultTimeout bounds every call to the auth and order endpoints.
const DefaultTimeout = 15 * time.Second

// Defaults for the bracket legs.
const (
	DefaultQuantity      = 1
	DefaultEntryDuration = "DAY"
	DefaultStopDuration  = "GTC"
	DefaultRoute         = "Intelligent"
)

// maxErrorBody caps how much of a brokerage response is kept for diagnostics.
const maxErrorBody = 64 << 10

// Tokens supplies bearer tokens for the order endpoint.
type Tokens interface {
	ValidToken(ctx context.Context) (AccessToken, error)
	Invalidate(value string)
}

// TradeStationConfig holds configuration for the TradeStation order client.
type TradeStationConfig struct {
	BaseURL       string
	AccountKey    string
	Quantity      int
	EntryDuration string
	StopDuration  string
	Route         string
	Timeout       time.Duration
}

// TradeStation submits bracket orders to the TradeStation v3 order execution
// API.
type TradeStation struct {
	cfg    TradeStationConfig
	tokens Tokens
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewTradeStation creates a new TradeStation order client.
func NewTradeStation(cfg TradeStationConfig, tokens Tokens, logger zerolog.Logger) *TradeStation {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Quantity <= 0 {
		cfg.Quantity = DefaultQuantity
	}
	if cfg.EntryDuration == "" {
		cfg.EntryDuration = DefaultEntryDuration
	}
	if cfg.StopDuration == "" {
		cfg.StopDuration = DefaultStopDuration
	}
	if cfg.Route == "" {
		cfg.Route = DefaultRoute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &TradeStation{
		cfg:    cfg,
		tokens: tokens,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.With().Str("component", "tradestation").Logger(),
		now:    time.Now,
	}
}

// BuildBracket constructs the two-leg order for alert: a limit buy-to-open at
// the entry price and a stop sell-to-close at the stop price.
func (ts *TradeStation) BuildBracket(alert models.TradeAlert) models.BracketOrder {
	contract := alert.Contract()
	symbol := contract.TradeStationSymbol()
	return models.BracketOrder{
		AccountKey: ts.cfg.AccountKey,
		Contract:   contract,
		Entry: models.OrderLeg{
			Symbol:     symbol,
			Action:     models.ActionBuyToOpen,
			Type:       models.OrderTypeLimit,
			Quantity:   ts.cfg.Quantity,
			LimitPrice: alert.EntryPrice,
			Duration:   ts.cfg.EntryDuration,
		},
		Exit: models.OrderLeg{
			Symbol:    symbol,
			Action:    models.ActionSellToClose,
			Type:      models.OrderTypeStopMarket,
			Quantity:  ts.cfg.Quantity,
			StopPrice: alert.StopPrice,
			Duration:  ts.cfg.StopDuration,
		},
	}
}

// Submit posts the bracket order for alert. Token failures surface as a
// SubmitError of kind auth_failed without contacting the order endpoint. A
// 401 invalidates the token and the order is posted once more with a fresh
// one; nothing else is retried.
func (ts *TradeStation) Submit(ctx context.Context, alert models.TradeAlert) (*models.OrderResult, error) {
	bracket := ts.BuildBracket(alert)
	symbol := bracket.Entry.Symbol

	body, err := json.Marshal(newOrderRequest(bracket, ts.cfg.Route))
	if err != nil {
		return nil, errors.NewSubmitError(errors.SubmitInvalidRequest, symbol, 0, "", err)
	}

	log := ts.logger(ctx)
	log.Info().
		Str("symbol", symbol).
		Str("occ", bracket.Contract.OCCSymbol()).
		Str("entry", alert.EntryPrice.String()).
		Str("stop", alert.StopPrice.String()).
		Int("quantity", bracket.Entry.Quantity).
		Msg("Submitting bracket order")

	var (
		status int
		raw    []byte
	)
	for attempt := 0; attempt < 2; attempt++ {
		token, err := ts.tokens.ValidToken(ctx)
		if err != nil {
			return nil, errors.NewSubmitError(errors.SubmitAuthFailed, symbol, 0, "", err)
		}

		status, raw, err = ts.post(ctx, "/orderexecution/orders", token.Value, body)
		if err != nil {
			return nil, errors.NewSubmitError(errors.SubmitTransport, symbol, 0, "", err)
		}
		if status != http.StatusUnauthorized {
			break
		}
		log.Warn().Int("attempt", attempt+1).Msg("Order endpoint rejected access token")
		ts.tokens.Invalidate(token.Value)
	}

	switch {
	case status == http.StatusUnauthorized:
		return nil, errors.NewSubmitError(errors.SubmitAuthFailed, symbol, status, string(raw), errors.ErrNotAuthenticated)
	case status < 200 || status > 299:
		return nil, errors.NewSubmitError(errors.SubmitRejected, symbol, status, string(raw), errors.ErrOrderRejected)
	}

	result, err := decodeOrderResponse(raw)
	if err != nil {
		kind := errors.SubmitMalformedResponse
		if errors.Is(err, errors.ErrOrderRejected) {
			kind = errors.SubmitRejected
		}
		return nil, errors.NewSubmitError(kind, symbol, status, string(raw), err)
	}
	result.Symbol = symbol
	result.SubmittedAt = ts.now()
	return result, nil
}

// logger tags ts.log with the request id carried by ctx.
func (ts *TradeStation) logger(ctx context.Context) zerolog.Logger {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return logging.WithRequestID(ts.log, id)
	}
	return ts.log
}

func (ts *TradeStation) post(ctx context.Context, endpoint, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := ts.client.Do(req)
	if err != nil {
		logging.LogAPICall(ts.logger(ctx), http.MethodPost, endpoint, 0, time.Since(started), err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	logging.LogAPICall(ts.logger(ctx), http.MethodPost, endpoint, resp.StatusCode, time.Since(started), nil)
	return resp.StatusCode, raw, nil
}

// Wire types for POST /orderexecution/orders. The stop leg rides in OSOs so
// it is only released once the entry fills.

type timeInForce struct {
	Duration string `json:"Duration"`
}

type orderRequest struct {
	AccountID   string       `json:"AccountID"`
	Symbol      string       `json:"Symbol"`
	Quantity    string       `json:"Quantity"`
	OrderType   string       `json:"OrderType"`
	LimitPrice  string       `json:"LimitPrice,omitempty"`
	StopPrice   string       `json:"StopPrice,omitempty"`
	TradeAction string       `json:"TradeAction"`
	TimeInForce timeInForce  `json:"TimeInForce"`
	Route       string       `json:"Route"`
	OSOs        []orderGroup `json:"OSOs,omitempty"`
}

type orderGroup struct {
	Type   string         `json:"Type"`
	Orders []orderRequest `json:"Orders"`
}

type orderResponse struct {
	Orders []orderConfirmation `json:"Orders"`
	Errors []orderFailure      `json:"Errors"`
}

type orderConfirmation struct {
	OrderID string `json:"OrderID"`
	Message string `json:"Message"`
	Error   string `json:"Error"`
}

type orderFailure struct {
	OrderID string `json:"OrderID"`
	Error   string `json:"Error"`
	Message string `json:"Message"`
}

func newLeg(account string, leg models.OrderLeg, route string) orderRequest {
	req := orderRequest{
		AccountID:   account,
		Symbol:      leg.Symbol,
		Quantity:    strconv.Itoa(leg.Quantity),
		OrderType:   string(leg.Type),
		TradeAction: string(leg.Action),
		TimeInForce: timeInForce{Duration: leg.Duration},
		Route:       route,
	}
	switch leg.Type {
	case models.OrderTypeLimit:
		req.LimitPrice = leg.LimitPrice.StringFixed(2)
	case models.OrderTypeStopMarket:
		req.StopPrice = leg.StopPrice.StringFixed(2)
	}
	return req
}

func newOrderRequest(b models.BracketOrder, route string) orderRequest {
	entry := newLeg(b.AccountKey, b.Entry, route)
	entry.OSOs = []orderGroup{{
		Type:   "NORMAL",
		Orders: []orderRequest{newLeg(b.AccountKey, b.Exit, route)},
	}}
	return entry
}

// decodeOrderResponse requires ids for both legs; anything else is an
// unexpected shape and is reported rather than guessed at.
func decodeOrderResponse(raw []byte) (*models.OrderResult, error) {
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrUnexpectedResponse, err.Error())
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, strings.TrimSpace(e.Error+" "+e.Message))
		}
		return nil, errors.Wrap(errors.ErrOrderRejected, strings.Join(msgs, "; "))
	}

	var ids []string
	var message string
	for _, o := range resp.Orders {
		if o.Error != "" {
			return nil, errors.Wrapf(errors.ErrOrderRejected, "order %s: %s %s", o.OrderID, o.Error, o.Message)
		}
		if o.OrderID == "" {
			continue
		}
		ids = append(ids, o.OrderID)
		if message == "" {
			message = o.Message
		}
	}
	if len(ids) < 2 {
		return nil, errors.Wrapf(errors.ErrUnexpectedResponse, "expected 2 order ids, got %d", len(ids))
	}

	return &models.OrderResult{
		EntryOrderID: ids[0],
		StopOrderID:  ids[1],
		Message:      message,
	}, nil
}
