package validator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealengine/internal/broker"
	"dealengine/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                {}
func (nopLogger) Info(string, ...interface{})                 {}
func (nopLogger) Warn(string, ...interface{})                 {}
func (nopLogger) Error(string, ...interface{})                {}
func (nopLogger) Fatal(string, ...interface{})                {}
func (n nopLogger) WithField(string, interface{}) core.Logger { return n }
func (n nopLogger) WithFields(map[string]interface{}) core.Logger { return n }

func newFastMockBroker() *broker.MockBroker {
	b := broker.New(0)
	b.MinLatency = 0
	b.MaxLatency = 0
	return b
}

func validRequest() core.TradeRequest {
	return core.TradeRequest{
		RequestID: "req-1",
		ClientID:  "client-1",
		TradeType: core.Buy,
		Symbol:    "EURUSD",
		Volume:    decimal.NewFromFloat(1.0),
	}
}

func TestValidator_AcceptsValidRequest(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	_, rejected := v.Validate(context.Background(), validRequest())
	assert.False(t, rejected)
}

func TestValidator_RejectsDuplicateRequestID(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()

	_, rejected := v.Validate(context.Background(), req)
	require.False(t, rejected)

	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.Duplicate, result.Status)
}

func TestValidator_RejectsEmptyClientID(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	req.ClientID = ""
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsEmptySymbol(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	req.Symbol = ""
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsNonPositiveVolume(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	req.Volume = decimal.Zero
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsUnknownSymbol(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	req.Symbol = "NOPE"
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsTradeNotAllowed(t *testing.T) {
	b := newFastMockBroker()
	b.SetTradeAllowed("EURUSD", false)
	v := New(b, nopLogger{})

	result, rejected := v.Validate(context.Background(), validRequest())
	require.True(t, rejected)
	assert.Equal(t, core.Rejected, result.Status)
}

func TestValidator_RejectsVolumeOutOfRange(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	req.Volume = decimal.NewFromFloat(1000.0)
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsNonPositiveStopLoss(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	sl := decimal.Zero
	req.StopLoss = &sl
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_RejectsNonPositiveTakeProfit(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()
	tp := decimal.NewFromFloat(-1.0)
	req.TakeProfit = &tp
	result, rejected := v.Validate(context.Background(), req)
	require.True(t, rejected)
	assert.Equal(t, core.InvalidParams, result.Status)
}

func TestValidator_DeduplicationIsAtomicUnderConcurrency(t *testing.T) {
	v := New(newFastMockBroker(), nopLogger{})
	req := validRequest()

	const attempts = 50
	accepted := make(chan bool, attempts)
	done := make(chan struct{})
	for i := 0; i < attempts; i++ {
		go func() {
			_, rejected := v.Validate(context.Background(), req)
			accepted <- !rejected
		}()
	}
	go func() {
		count := 0
		for i := 0; i < attempts; i++ {
			if <-accepted {
				count++
			}
		}
		assert.Equal(t, 1, count)
		close(done)
	}()
	<-done
}
