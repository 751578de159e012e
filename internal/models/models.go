// Package models provides domain models for the alert bridge.
package models

import (
	"strings"
)

// OptionType represents the right of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// ParseOptionType maps CALL, CALLS, PUT or PUTS (any case) to an OptionType.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "CALLS":
		return OptionCall, true
	case "PUT", "PUTS":
		return OptionPut, true
	default:
		return "", false
	}
}

// Valid reports whether t is a recognised option type.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// Code returns the single-letter symbology code (C or P).
func (t OptionType) Code() string {
	if t == OptionPut {
		return "P"
	}
	return "C"
}

// OrderAction represents the trade action of an option order leg.
type OrderAction string

const (
	ActionBuyToOpen   OrderAction = "BUYTOOPEN"
	ActionSellToClose OrderAction = "SELLTOCLOSE"
)

// OrderType represents the type of an order leg.
type OrderType string

const (
	OrderTypeLimit      OrderType = "Limit"
	OrderTypeStopMarket OrderType = "StopMarket"
)
