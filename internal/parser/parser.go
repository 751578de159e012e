// Package parser extracts structured option trade alerts from free-text chat
// messages of the form
//
//	AAPL - $250 CALLS EXPIRATION 10/10 $1.29 STOP LOSS AT $1.00
//
// Fields must appear in that order. Anything ambiguous is rejected rather than
// guessed at.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"alertbridge/internal/errors"
	"alertbridge/internal/models"
)

var (
	markupPattern     = regexp.MustCompile(`<[^>]*>`)
	symbolPattern     = regexp.MustCompile(`^([A-Za-z]{1,5})\s*[-–—:]\s*`)
	expirationPattern = regexp.MustCompile(`(?i)\b(?:EXPIRATION|EXP)\b\.?\s*:?\s*`)
	datePattern       = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	stopPattern       = regexp.MustCompile(`(?i)\b(?:STOP\s*-?\s*LOSS|STOP|SL)\b`)
	pricePattern      = regexp.MustCompile(`\$\s?(\d+(?:\.\d+)?|\.\d+)`)
	strikePattern     = regexp.MustCompile(`(?i)^\$\s?(\d+(?:\.\d+)?|\.\d+)\s*(CALLS?|PUTS?)\b`)
	stopPricePattern  = regexp.MustCompile(`(?i)^\s*(?:(?:AT|@|:|-|=)\s*)*\$\s?(\d+(?:\.\d+)?|\.\d+)`)
)

// Parse extracts a TradeAlert from text. now supplies the reference date for
// year inference and is interpreted in its own location. Any failure is
// returned as an *errors.ParseError.
func Parse(text string, now time.Time) (models.TradeAlert, error) {
	cleaned := Normalize(text)
	if cleaned == "" {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonSymbol, "empty message")
	}

	// Symbol
	sym := symbolPattern.FindStringSubmatchIndex(cleaned)
	if sym == nil {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonSymbol, "no ticker at start of message")
	}
	symbol := strings.ToUpper(cleaned[sym[2]:sym[3]])
	rest := cleaned[sym[1]:]

	// Expiration marker splits the strike segment from the rest.
	expMarkers := expirationPattern.FindAllStringIndex(rest, -1)
	switch len(expMarkers) {
	case 0:
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonExpiration, "no expiration marker")
	case 1:
	default:
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonAmbiguous, "%d expiration markers", len(expMarkers))
	}
	head := rest[:expMarkers[0][0]]
	afterExp := rest[expMarkers[0][1]:]

	strike, optionType, err := parseStrike(head)
	if err != nil {
		return models.TradeAlert{}, err
	}

	dateLoc := datePattern.FindStringSubmatchIndex(afterExp)
	if dateLoc == nil {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonExpiration, "expiration date not in MM/DD[/YY] form")
	}
	expiration, err := parseExpiration(afterExp, dateLoc, now)
	if err != nil {
		return models.TradeAlert{}, err
	}
	afterDate := afterExp[dateLoc[1]:]
	if strings.HasPrefix(afterDate, "/") || (afterDate != "" && afterDate[0] >= '0' && afterDate[0] <= '9') {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonExpiration, "malformed expiration date %s", afterExp[dateLoc[0]:])
	}

	stopLoc := stopPattern.FindStringIndex(afterDate)
	if stopLoc == nil {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonStop, "no stop loss marker after expiration")
	}

	entry, err := parseEntry(afterDate[:stopLoc[0]])
	if err != nil {
		return models.TradeAlert{}, err
	}

	stopMatch := stopPricePattern.FindStringSubmatch(afterDate[stopLoc[1]:])
	if stopMatch == nil {
		return models.TradeAlert{}, errors.NewParseError(errors.ReasonStop, "no price after stop loss marker")
	}
	stop, err := parsePrice(stopMatch[1], errors.ReasonStop)
	if err != nil {
		return models.TradeAlert{}, err
	}

	return models.NewTradeAlert(symbol, optionType, strike, expiration, entry, stop)
}

// Normalize strips Discord markup such as custom emoji and mentions and
// collapses whitespace.
func Normalize(text string) string {
	cleaned := markupPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// parseStrike requires the segment before the expiration marker to hold
// exactly one dollar amount, directly followed by CALL(S) or PUT(S).
func parseStrike(head string) (decimal.Decimal, models.OptionType, error) {
	prices := pricePattern.FindAllStringIndex(head, -1)
	switch len(prices) {
	case 0:
		return decimal.Decimal{}, "", errors.NewParseError(errors.ReasonStrike, "no strike before expiration")
	case 1:
	default:
		return decimal.Decimal{}, "", errors.NewParseError(errors.ReasonAmbiguous, "%d dollar amounts before expiration", len(prices))
	}

	m := strikePattern.FindStringSubmatch(head[prices[0][0]:])
	if m == nil {
		return decimal.Decimal{}, "", errors.NewParseError(errors.ReasonOptionType, "strike not followed by CALLS or PUTS")
	}
	optionType, _ := models.ParseOptionType(m[2])
	strike, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, "", errors.NewParseError(errors.ReasonStrike, "invalid strike %q", m[1])
	}
	return strike, optionType, nil
}

func parseEntry(mid string) (decimal.Decimal, error) {
	prices := pricePattern.FindAllStringSubmatch(mid, -1)
	switch len(prices) {
	case 0:
		return decimal.Decimal{}, errors.NewParseError(errors.ReasonEntry, "no entry price between expiration and stop")
	case 1:
	default:
		return decimal.Decimal{}, errors.NewParseError(errors.ReasonAmbiguous, "%d entry prices between expiration and stop", len(prices))
	}
	return parsePrice(prices[0][1], errors.ReasonEntry)
}

// parsePrice reads an option premium. Orders are priced in cents, so a value
// that would change when rounded to two places is rejected.
func parsePrice(s string, reason errors.Reason) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.NewParseError(reason, "invalid %s price %q", reason, s)
	}
	if !p.Equal(p.Round(2)) {
		return decimal.Decimal{}, errors.NewParseError(reason, "%s price %s has more than two decimal places", reason, s)
	}
	return p, nil
}

func parseExpiration(s string, loc []int, now time.Time) (time.Time, error) {
	month, _ := strconv.Atoi(s[loc[2]:loc[3]])
	day, _ := strconv.Atoi(s[loc[4]:loc[5]])
	if !validMonthDay(month, day) {
		return time.Time{}, errors.NewParseError(errors.ReasonExpiration, "invalid date %s", s[loc[0]:loc[1]])
	}

	today := startOfDay(now)
	if loc[6] < 0 {
		year := InferYear(time.Month(month), day, today)
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, today.Location()), nil
	}

	year, _ := strconv.Atoi(s[loc[6]:loc[7]])
	if year < 100 {
		year += 2000
	}
	exp := time.Date(year, time.Month(month), day, 0, 0, 0, 0, today.Location())
	if exp.Day() != day {
		return time.Time{}, errors.NewParseError(errors.ReasonExpiration, "%s is not a calendar date", s[loc[0]:loc[1]])
	}
	if exp.Before(today) {
		return time.Time{}, errors.NewParseError(errors.ReasonExpiration, "expiration %s is in the past", exp.Format("2006-01-02"))
	}
	return exp, nil
}

// validMonthDay reports whether month/day exists in at least one year.
func validMonthDay(month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	// 2000 is a leap year, so Feb 29 passes here.
	return day <= daysIn(time.Month(month), 2000)
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
