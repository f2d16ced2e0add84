package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealengine/internal/broker"
	"dealengine/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                    {}
func (nopLogger) Info(string, ...interface{})                     {}
func (nopLogger) Warn(string, ...interface{})                     {}
func (nopLogger) Error(string, ...interface{})                    {}
func (nopLogger) Fatal(string, ...interface{})                    {}
func (n nopLogger) WithField(string, interface{}) core.Logger     { return n }
func (n nopLogger) WithFields(map[string]interface{}) core.Logger { return n }

func newFastMockBroker() *broker.MockBroker {
	b := broker.New(0)
	b.MinLatency = 0
	b.MaxLatency = 0
	return b
}

func collectResult(t *testing.T) (ResultCallback, chan core.TradeResult) {
	ch := make(chan core.TradeResult, 1)
	return func(r core.TradeResult) { ch <- r }, ch
}

func awaitResult(t *testing.T, ch chan core.TradeResult) core.TradeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return core.TradeResult{}
	}
}

// S1 — happy path.
func TestDealProcessor_S1_HappyPath(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1, MaxRetries: 0, RetryBaseMs: 10})
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "C1-000000", TradeType: core.Buy,
		Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.10),
	}, cb)

	result := awaitResult(t, ch)
	assert.Equal(t, core.Success, result.Status)
	assert.Equal(t, 0, result.RetryCount)
	assert.NotEmpty(t, result.TicketID)
	assert.True(t, result.ExecutionPrice.IsPositive())
}

// S2 — duplicate.
func TestDealProcessor_S2_Duplicate(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1, MaxRetries: 0})
	p.Start(context.Background())
	defer p.Stop()

	req := core.TradeRequest{ClientID: "C1", RequestID: "C1-000000", Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.10)}

	cb1, ch1 := collectResult(t)
	p.Submit(context.Background(), req, cb1)
	first := awaitResult(t, ch1)
	assert.Equal(t, core.Success, first.Status)

	cb2, ch2 := collectResult(t)
	p.Submit(context.Background(), req, cb2)
	second := awaitResult(t, ch2)
	assert.Equal(t, core.Duplicate, second.Status)
	assert.Contains(t, second.ErrorMessage, "C1-000000")
}

// S3 — invalid volume.
func TestDealProcessor_S3_InvalidVolume(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1})
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "r1", Symbol: "EURUSD", Volume: decimal.Zero,
	}, cb)

	result := awaitResult(t, ch)
	assert.Equal(t, core.InvalidParams, result.Status)
	assert.Equal(t, 0, result.RetryCount)
}

// S4 — unknown symbol.
func TestDealProcessor_S4_UnknownSymbol(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1})
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "r1", Symbol: "INVALID", Volume: decimal.NewFromFloat(0.1),
	}, cb)

	result := awaitResult(t, ch)
	assert.Equal(t, core.InvalidParams, result.Status)
}

// scriptedBroker mirrors the one in internal/retry but is defined here
// too since processor needs its own to exercise S5/S6 end-to-end through
// the full pipeline (validator + executor), not just the executor.
type scriptedBroker struct {
	mu       sync.Mutex
	statuses []core.TradeStatus
	calls    int
	inner    *broker.MockBroker
}

func newScriptedBroker(statuses []core.TradeStatus) *scriptedBroker {
	return &scriptedBroker{statuses: statuses, inner: newFastMockBroker()}
}

func (s *scriptedBroker) ExecuteTrade(ctx context.Context, req core.TradeRequest) core.TradeResult {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	status := s.statuses[idx]
	s.calls++
	s.mu.Unlock()

	if status == core.Success {
		return s.inner.ExecuteTrade(ctx, req)
	}
	return core.TradeResult{
		RequestID: req.RequestID, ClientID: req.ClientID,
		Status: status, ErrorMessage: "scripted failure",
	}
}

func (s *scriptedBroker) Connect(ctx context.Context, server string, login int64, password string) (bool, error) {
	return s.inner.Connect(ctx, server, login, password)
}
func (s *scriptedBroker) Disconnect()       { s.inner.Disconnect() }
func (s *scriptedBroker) IsConnected() bool { return s.inner.IsConnected() }
func (s *scriptedBroker) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, bool) {
	return s.inner.GetSymbolInfo(ctx, symbol)
}
func (s *scriptedBroker) GetAccountInfo(ctx context.Context, login int64) (core.AccountInfo, bool) {
	return s.inner.GetAccountInfo(ctx, login)
}
func (s *scriptedBroker) GetTicketInfo(ctx context.Context, ticketID string) (core.TradeResult, bool) {
	return s.inner.GetTicketInfo(ctx, ticketID)
}
func (s *scriptedBroker) GetSymbols(ctx context.Context) []string { return s.inner.GetSymbols(ctx) }

// S5 — retry then success.
func TestDealProcessor_S5_RetryThenSuccess(t *testing.T) {
	b := newScriptedBroker([]core.TradeStatus{core.ConnectionError, core.ConnectionError, core.Success})
	p := New(b, nopLogger{}, Config{NumWorkers: 1, MaxRetries: 3, RetryBaseMs: 10})
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	start := time.Now()
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "r1", Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1),
	}, cb)
	result := awaitResult(t, ch)
	elapsed := time.Since(start)

	assert.Equal(t, core.Success, result.Status)
	assert.Equal(t, 2, result.RetryCount)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

// S6 — retry exhausted.
func TestDealProcessor_S6_RetryExhausted(t *testing.T) {
	b := newScriptedBroker([]core.TradeStatus{core.ConnectionError})
	p := New(b, nopLogger{}, Config{NumWorkers: 1, MaxRetries: 3, RetryBaseMs: 10})
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "r1", Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1),
	}, cb)
	result := awaitResult(t, ch)

	assert.Equal(t, core.RetryExhausted, result.Status)
	assert.Equal(t, 3, result.RetryCount)
	assert.Contains(t, result.ErrorMessage, "attempts failed")
}

// S7 — graceful drain.
func TestDealProcessor_S7_GracefulDrain(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 2, MaxRetries: 0})
	p.Start(context.Background())

	const total = 100
	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		p.Submit(context.Background(), core.TradeRequest{
			ClientID: "C1", RequestID: fmt.Sprintf("r%d", i),
			Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.01),
		}, func(core.TradeResult) { wg.Done() })
	}
	wg.Wait()

	p.Stop()
	assert.Equal(t, 0, p.QueueDepth())
	assert.Equal(t, total, p.Tracker().GetStats().TotalRequests)
}

func TestDealProcessor_SubmitBeforeStartIsNoOp(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1})
	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{ClientID: "C1", RequestID: "r1", Symbol: "EURUSD"}, cb)

	select {
	case <-ch:
		t.Fatal("callback should not be invoked when processor is not running")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDealProcessor_DoubleStartIsNoOp(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1})
	p.Start(context.Background())
	p.Start(context.Background())
	defer p.Stop()

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "r1", Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.1),
	}, cb)
	result := awaitResult(t, ch)
	assert.Equal(t, core.Success, result.Status)
}

func TestDealProcessor_DoubleStopIsNoOp(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1})
	p.Start(context.Background())
	p.Stop()
	p.Stop() // must not panic or block
}

func TestDealProcessor_ConcurrencyStress(t *testing.T) {
	const producers = 10
	const perProducer = 50
	const total = producers * perProducer

	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 8, MaxRetries: 0})
	p.Start(context.Background())

	var wg sync.WaitGroup
	wg.Add(total)
	for pr := 0; pr < producers; pr++ {
		go func(pr int) {
			for i := 0; i < perProducer; i++ {
				p.Submit(context.Background(), core.TradeRequest{
					ClientID:  fmt.Sprintf("client-%d", pr),
					RequestID: fmt.Sprintf("req-%d-%d", pr, i),
					Symbol:    "EURUSD",
					Volume:    decimal.NewFromFloat(0.01),
				}, func(core.TradeResult) { wg.Done() })
			}
		}(pr)
	}
	wg.Wait()
	p.Stop()

	stats := p.Tracker().GetStats()
	require.Equal(t, total, stats.TotalRequests)
	assert.Equal(t, total, stats.Successful)
}

// A callback panic must not crash the worker pool: it is recovered, logged,
// and the worker keeps pulling subsequent requests off the queue.
func TestDealProcessor_PanickingCallbackDoesNotStopTheWorker(t *testing.T) {
	p := New(newFastMockBroker(), nopLogger{}, Config{NumWorkers: 1, MaxRetries: 0})
	p.Start(context.Background())
	defer p.Stop()

	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "C1-panic", TradeType: core.Buy,
		Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.10),
	}, func(core.TradeResult) { panic("callback exploded") })

	cb, ch := collectResult(t)
	p.Submit(context.Background(), core.TradeRequest{
		ClientID: "C1", RequestID: "C1-after-panic", TradeType: core.Buy,
		Symbol: "EURUSD", Volume: decimal.NewFromFloat(0.10),
	}, cb)

	result := awaitResult(t, ch)
	assert.Equal(t, core.Success, result.Status)

	stats := p.Tracker().GetStats()
	assert.Equal(t, 2, stats.TotalRequests)
	assert.Equal(t, 2, stats.Successful) // the panicking callback's own result was still recorded as SUCCESS
}
