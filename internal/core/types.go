package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the side of a trade request.
type TradeType int

const (
	Buy TradeType = iota
	Sell
)

func (t TradeType) String() string {
	if t == Sell {
		return "SELL"
	}
	return "BUY"
}

// TradeStatus is the outcome of a processed TradeRequest.
type TradeStatus int

const (
	Success TradeStatus = iota
	Rejected
	InvalidParams
	ConnectionError
	MarginError
	Duplicate
	RetryExhausted
)

func (s TradeStatus) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Rejected:
		return "REJECTED"
	case InvalidParams:
		return "INVALID_PARAMS"
	case ConnectionError:
		return "CONNECTION_ERROR"
	case MarginError:
		return "MARGIN_ERROR"
	case Duplicate:
		return "DUPLICATE"
	case RetryExhausted:
		return "RETRY_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether the RetryExecutor should attempt this status again.
func (s TradeStatus) Retryable() bool {
	return s == ConnectionError || s == Rejected
}

// TradeRequest is immutable after construction.
type TradeRequest struct {
	ClientID         string
	RequestID        string
	TradeType        TradeType
	Symbol           string
	Volume           decimal.Decimal
	StopLoss         *decimal.Decimal
	TakeProfit       *decimal.Decimal
	Timestamp        time.Time
	IsTestBadRequest bool
}

// TradeResult is produced exactly once per accepted request.
type TradeResult struct {
	RequestID      string
	ClientID       string
	Status         TradeStatus
	TicketID       string
	ExecutionPrice decimal.Decimal
	ErrorMessage   string
	RetryCount     int
	Timestamp      time.Time
}

// IsSuccess reports whether the result represents a filled trade.
func (r TradeResult) IsSuccess() bool {
	return r.Status == Success
}

// SymbolInfo is the symbol metadata a BrokerAPI returns for a tradeable instrument.
type SymbolInfo struct {
	Name         string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	MinVolume    decimal.Decimal
	MaxVolume    decimal.Decimal
	VolumeStep   decimal.Decimal
	Digits       int
	TradeAllowed bool
}

// AccountInfo is the account metadata a BrokerAPI returns.
type AccountInfo struct {
	Login       int64
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	FreeMargin  decimal.Decimal
	MarginLevel decimal.Decimal
	Currency    string
}
