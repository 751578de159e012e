// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard sentinel errors
var (
	ErrNotAlert           = errors.New("message is not a trade alert")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOrderRejected      = errors.New("order rejected")
	ErrUnexpectedResponse = errors.New("unexpected response shape")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// Reason identifies which alert field failed to parse or validate.
type Reason string

const (
	ReasonSymbol     Reason = "symbol"
	ReasonStrike     Reason = "strike"
	ReasonOptionType Reason = "option_type"
	ReasonExpiration Reason = "expiration"
	ReasonEntry      Reason = "entry"
	ReasonStop       Reason = "stop"
	ReasonPriceOrder Reason = "price_order"
	ReasonAmbiguous  Reason = "ambiguous"
)

// ParseError is returned when a message does not match the alert grammar.
// It is the expected outcome for most channel traffic.
type ParseError struct {
	Reason  Reason
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s]: %s", e.Reason, e.Message)
}

func (e *ParseError) Unwrap() error {
	return ErrNotAlert
}

// NewParseError creates a new ParseError.
func NewParseError(reason Reason, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// AuthError represents a failed refresh-token exchange.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("auth error [%d]: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("auth error [%d]: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("auth error: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotAuthenticated
}

// NewAuthError creates a new AuthError.
func NewAuthError(statusCode int, body string, err error) *AuthError {
	return &AuthError{
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// SubmitKind classifies a failed order submission.
type SubmitKind string

const (
	SubmitAuthFailed        SubmitKind = "auth_failed"
	SubmitRejected          SubmitKind = "rejected"
	SubmitTransport         SubmitKind = "transport"
	SubmitMalformedResponse SubmitKind = "malformed_response"
	SubmitInvalidRequest    SubmitKind = "invalid_request"
)

// SubmitError represents a failed bracket order submission. Body holds the
// brokerage payload verbatim for diagnostics.
type SubmitError struct {
	Kind       SubmitKind
	Symbol     string
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmitError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "submit error [%s] %s", e.Kind, e.Symbol)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&sb, ": %s", e.Body)
	}
	return sb.String()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// NewSubmitError creates a new SubmitError.
func NewSubmitError(kind SubmitKind, symbol string, statusCode int, body string, err error) *SubmitError {
	return &SubmitError{
		Kind:       kind,
		Symbol:     symbol,
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// ConfigError lists every missing or invalid configuration key.
type ConfigError struct {
	Missing []string
	Invalid map[string]string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	keys := make([]string, 0, len(e.Invalid))
	for key := range e.Invalid {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e.Invalid[key]))
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(parts, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New from the standard library.
func New(text string) error {
	return errors.New(text)
}
