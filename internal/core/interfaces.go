// Package core defines the shared types and collaborator interfaces of the
// trade dispatch engine.
package core

import "context"

// BrokerAPI mirrors the MT5 Manager API surface the dispatch engine
// consumes. The core never implements this itself; internal/broker
// provides a simulated implementation, and a production embedder would
// substitute a real MT5 gateway client behind the same interface.
//
// Implementations must be safe for concurrent use: multiple workers call
// ExecuteTrade concurrently, and Validator calls GetSymbolInfo from any
// worker goroutine.
type BrokerAPI interface {
	Connect(ctx context.Context, server string, login int64, password string) (bool, error)
	Disconnect()
	IsConnected() bool

	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, bool)
	GetAccountInfo(ctx context.Context, login int64) (AccountInfo, bool)

	// ExecuteTrade performs the server-mediated trade submission path
	// (DealerSend in MT5 terms): symbol validation, volume range and
	// step-alignment checks, trade-permission check, margin check, and
	// atomic margin reservation on success. It always returns a populated
	// TradeResult; failures are carried in TradeResult.Status/ErrorMessage
	// rather than as a Go error, so RetryExecutor can classify the outcome.
	ExecuteTrade(ctx context.Context, req TradeRequest) TradeResult

	GetTicketInfo(ctx context.Context, ticketID string) (TradeResult, bool)
	GetSymbols(ctx context.Context) []string
}

// Logger is the structured logging interface every core component depends
// on. pkg/logging.ZapLogger is the production implementation.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
