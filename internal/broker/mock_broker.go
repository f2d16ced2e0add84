// Package broker provides a simulated implementation of core.BrokerAPI for
// demo and testing, modeled on MetaTrader 5's Manager API.
package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dealengine/internal/core"
	apperrors "dealengine/pkg/errors"
)

// MockBroker simulates realistic broker behavior: known symbols with
// bid/ask spreads, account margin tracking that decreases with each trade,
// random execution latency, and a configurable connection-failure rate.
// It is safe for concurrent use by multiple workers.
type MockBroker struct {
	rng   *rand.Rand
	rngMu sync.Mutex

	FailureRate float64 // probability in [0,1] that ExecuteTrade returns CONNECTION_ERROR
	MinLatency  time.Duration
	MaxLatency  time.Duration

	symbolsMu sync.RWMutex
	symbols   map[string]core.SymbolInfo

	accountMu sync.Mutex
	account   core.AccountInfo

	tradesMu sync.Mutex
	trades   map[string]core.TradeResult

	connected bool
	connMu    sync.Mutex

	ticketSeq uint64
	seqMu     sync.Mutex
}

// New creates a MockBroker seeded with a realistic forex symbol book and a
// $100,000 demo account, matching the reference MT5 simulator.
func New(failureRate float64) *MockBroker {
	b := &MockBroker{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		FailureRate: failureRate,
		MinLatency:  10 * time.Millisecond,
		MaxLatency:  100 * time.Millisecond,
		trades:      make(map[string]core.TradeResult),
		account: core.AccountInfo{
			Login:       12345,
			Balance:     decimal.NewFromInt(100000),
			Equity:      decimal.NewFromInt(100000),
			FreeMargin:  decimal.NewFromInt(100000),
			MarginLevel: decimal.Zero,
			Currency:    "USD",
		},
	}
	b.symbols = defaultSymbols()
	return b
}

func defaultSymbols() map[string]core.SymbolInfo {
	sym := func(name string, bid, ask, minVol, maxVol, step float64, digits int) core.SymbolInfo {
		return core.SymbolInfo{
			Name:         name,
			Bid:          decimal.NewFromFloat(bid),
			Ask:          decimal.NewFromFloat(ask),
			MinVolume:    decimal.NewFromFloat(minVol),
			MaxVolume:    decimal.NewFromFloat(maxVol),
			VolumeStep:   decimal.NewFromFloat(step),
			Digits:       digits,
			TradeAllowed: true,
		}
	}
	return map[string]core.SymbolInfo{
		"EURUSD": sym("EURUSD", 1.08450, 1.08465, 0.01, 100.0, 0.01, 5),
		"GBPUSD": sym("GBPUSD", 1.26320, 1.26340, 0.01, 100.0, 0.01, 5),
		"USDJPY": sym("USDJPY", 149.850, 149.865, 0.01, 100.0, 0.01, 3),
		"AUDUSD": sym("AUDUSD", 0.65230, 0.65248, 0.01, 100.0, 0.01, 5),
		"USDCAD": sym("USDCAD", 1.35720, 1.35738, 0.01, 100.0, 0.01, 5),
		"XAUUSD": sym("XAUUSD", 2035.50, 2036.00, 0.01, 50.0, 0.01, 2),
	}
}

// Connect simulates IMTManagerAPI::Connect.
func (b *MockBroker) Connect(ctx context.Context, server string, login int64, password string) (bool, error) {
	b.simulateLatency()
	b.connMu.Lock()
	b.connected = true
	b.connMu.Unlock()
	b.accountMu.Lock()
	b.account.Login = login
	b.accountMu.Unlock()
	return true, nil
}

// Disconnect simulates IMTManagerAPI::Disconnect.
func (b *MockBroker) Disconnect() {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.connected = false
}

// IsConnected reports the simulated connection state.
func (b *MockBroker) IsConnected() bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	return b.connected
}

// GetSymbolInfo simulates SymbolGet + SymbolInfoGet, including a small
// random price wobble to mimic a live market. Bid and ask move by the same
// amount, so the spread itself does not change.
func (b *MockBroker) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, bool) {
	b.symbolsMu.RLock()
	info, ok := b.symbols[symbol]
	b.symbolsMu.RUnlock()
	if !ok {
		return core.SymbolInfo{}, false
	}

	variation := decimal.NewFromFloat((b.randFloat() - 0.5) * 0.0010)
	info.Bid = info.Bid.Add(variation)
	info.Ask = info.Ask.Add(variation)
	return info, true
}

// GetAccountInfo simulates UserAccountGet.
func (b *MockBroker) GetAccountInfo(ctx context.Context, login int64) (core.AccountInfo, bool) {
	b.accountMu.Lock()
	defer b.accountMu.Unlock()
	if login != b.account.Login {
		return core.AccountInfo{}, false
	}
	return b.account, true
}

// ExecuteTrade simulates IMTManagerAPI::DealerSend, which is used instead
// of direct deal creation because it passes through all server-side
// validations: margin, symbol trade limits, session filters, price
// validity. See core.BrokerAPI.ExecuteTrade for the contract.
func (b *MockBroker) ExecuteTrade(ctx context.Context, req core.TradeRequest) core.TradeResult {
	result := core.TradeResult{
		RequestID: req.RequestID,
		ClientID:  req.ClientID,
		Timestamp: time.Now(),
	}

	b.simulateLatency()

	if b.shouldFail() {
		result.Status = core.ConnectionError
		result.ErrorMessage = fmt.Errorf("%w: MT5 server connection timeout during DealerSend()", apperrors.ErrNetwork).Error()
		return result
	}

	b.symbolsMu.RLock()
	info, ok := b.symbols[req.Symbol]
	b.symbolsMu.RUnlock()
	if !ok {
		result.Status = core.InvalidParams
		result.ErrorMessage = fmt.Errorf("%w: '%s' (SymbolGet failed)", apperrors.ErrInvalidSymbol, req.Symbol).Error()
		return result
	}

	if !info.TradeAllowed {
		result.Status = core.Rejected
		result.ErrorMessage = fmt.Errorf("%w: trading disabled for symbol '%s'", apperrors.ErrOrderRejected, req.Symbol).Error()
		return result
	}

	if req.Volume.LessThan(info.MinVolume) || req.Volume.GreaterThan(info.MaxVolume) {
		result.Status = core.InvalidParams
		result.ErrorMessage = fmt.Errorf("%w: volume %s outside allowed range [%s, %s]",
			apperrors.ErrInvalidOrderParameter, req.Volume, info.MinVolume, info.MaxVolume).Error()
		return result
	}

	if !volumeAlignedToStep(req.Volume, info.VolumeStep) {
		result.Status = core.InvalidParams
		result.ErrorMessage = fmt.Errorf("%w: volume %s not aligned to step %s", apperrors.ErrInvalidOrderParameter, req.Volume, info.VolumeStep).Error()
		return result
	}

	requiredMargin := req.Volume.Mul(decimal.NewFromInt(1000)) // simplified: $1000 per lot
	b.accountMu.Lock()
	if b.account.FreeMargin.LessThan(requiredMargin) {
		available := b.account.FreeMargin
		b.accountMu.Unlock()
		result.Status = core.MarginError
		result.ErrorMessage = fmt.Errorf("%w: required $%s, available $%s",
			apperrors.ErrInsufficientFunds, requiredMargin, available).Error()
		return result
	}
	b.account.FreeMargin = b.account.FreeMargin.Sub(requiredMargin)
	b.account.Equity = b.account.Equity.Sub(requiredMargin.Mul(decimal.NewFromFloat(0.001)))
	b.accountMu.Unlock()

	price := b.generatePrice(info, req.TradeType)
	ticket := b.generateTicketID()

	result.Status = core.Success
	result.TicketID = ticket
	result.ExecutionPrice = price

	b.tradesMu.Lock()
	b.trades[ticket] = result
	b.tradesMu.Unlock()

	return result
}

// GetTicketInfo simulates DealGet.
func (b *MockBroker) GetTicketInfo(ctx context.Context, ticketID string) (core.TradeResult, bool) {
	b.tradesMu.Lock()
	defer b.tradesMu.Unlock()
	r, ok := b.trades[ticketID]
	return r, ok
}

// GetSymbols simulates iterating SymbolNext.
func (b *MockBroker) GetSymbols(ctx context.Context) []string {
	b.symbolsMu.RLock()
	defer b.symbolsMu.RUnlock()
	names := make([]string, 0, len(b.symbols))
	for name := range b.symbols {
		names = append(names, name)
	}
	return names
}

func volumeAlignedToStep(volume, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	steps := volume.Div(step)
	rounded := steps.Round(0)
	return steps.Sub(rounded).Abs().LessThanOrEqual(decimal.NewFromFloat(1e-6))
}

func (b *MockBroker) generatePrice(info core.SymbolInfo, tradeType core.TradeType) decimal.Decimal {
	base := info.Ask
	if tradeType == core.Sell {
		base = info.Bid
	}
	slippage := decimal.NewFromFloat((b.randFloat() - 0.5) * 0.00005)
	return base.Add(slippage)
}

func (b *MockBroker) generateTicketID() string {
	b.seqMu.Lock()
	b.ticketSeq++
	seq := b.ticketSeq
	b.seqMu.Unlock()
	return fmt.Sprintf("%d-%s", seq, uuid.New().String())
}

func (b *MockBroker) simulateLatency() {
	span := b.MaxLatency - b.MinLatency
	if span <= 0 {
		time.Sleep(b.MinLatency)
		return
	}
	time.Sleep(b.MinLatency + time.Duration(b.randFloat()*float64(span)))
}

func (b *MockBroker) shouldFail() bool {
	return b.randFloat() < b.FailureRate
}

func (b *MockBroker) randFloat() float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64()
}

// SetTradeAllowed toggles a symbol's trade-permission flag, used by tests
// and demos to exercise the REJECTED path.
func (b *MockBroker) SetTradeAllowed(symbol string, allowed bool) {
	b.symbolsMu.Lock()
	defer b.symbolsMu.Unlock()
	if info, ok := b.symbols[symbol]; ok {
		info.TradeAllowed = allowed
		b.symbols[symbol] = info
	}
}
