// Package connection wraps BrokerAPI's connect lifecycle in a
// failsafe-go resilience pipeline: a retry policy for transient connect
// failures and a circuit breaker that stops hammering a broker that is
// persistently down. This sits outside the core dispatch pipeline —
// internal/retry.Executor still calls BrokerAPI.ExecuteTrade directly
// and is unaffected by circuit state here.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"dealengine/internal/core"
)

// Config controls the retry and circuit-breaker policies wrapping Connect.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	FailureRatio   uint // trips the breaker after FailureRatio failures out of FailureWindow
	FailureWindow  uint
	OpenDuration   time.Duration
}

// DefaultConfig mirrors the thresholds the teacher's pkg/http.Client uses
// for its own failsafe-go pipeline around outbound HTTP calls.
var DefaultConfig = Config{
	MaxRetries:     3,
	RetryBaseDelay: 100 * time.Millisecond,
	RetryMaxDelay:  2 * time.Second,
	FailureRatio:   5,
	FailureWindow:  10,
	OpenDuration:   10 * time.Second,
}

// Manager owns the resilience pipeline around a BrokerAPI's connection
// lifecycle. It does not implement core.BrokerAPI itself — callers use it
// once at startup (and whenever a reconnect is needed), then drive
// request execution straight through the wrapped broker.
type Manager struct {
	broker   core.BrokerAPI
	logger   core.Logger
	pipeline failsafe.Executor[bool]
}

// New builds a Manager around broker using cfg's retry and circuit-breaker
// thresholds.
func New(broker core.BrokerAPI, logger core.Logger, cfg Config) *Manager {
	retryPolicy := retrypolicy.NewBuilder[bool]().
		HandleIf(func(connected bool, err error) bool {
			return err != nil || !connected
		}).
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[bool]().
		HandleIf(func(connected bool, err error) bool {
			return err != nil || !connected
		}).
		WithFailureThresholdRatio(cfg.FailureRatio, cfg.FailureWindow).
		WithDelay(cfg.OpenDuration).
		Build()

	return &Manager{
		broker:   broker,
		logger:   logger.WithField("component", "connection_manager"),
		pipeline: failsafe.With[bool](retryPolicy, breaker),
	}
}

// Connect establishes the broker connection through the retry + circuit
// breaker pipeline, returning an error if every retry is exhausted or the
// circuit is open.
func (m *Manager) Connect(ctx context.Context, server string, login int64, password string) error {
	connected, err := m.pipeline.GetWithExecution(func(exec failsafe.Execution[bool]) (bool, error) {
		return m.broker.Connect(ctx, server, login, password)
	})
	if err != nil {
		m.logger.Error("broker connect failed", "server", server, "login", login, "error", err.Error())
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	if !connected {
		m.logger.Error("broker refused connection", "server", server, "login", login)
		return fmt.Errorf("connect to %s: refused", server)
	}
	m.logger.Info("broker connected", "server", server, "login", login)
	return nil
}

// EnsureConnected reconnects through the same pipeline if the broker has
// dropped its connection. It is a no-op if already connected.
func (m *Manager) EnsureConnected(ctx context.Context, server string, login int64, password string) error {
	if m.broker.IsConnected() {
		return nil
	}
	m.logger.Warn("broker disconnected, reconnecting", "server", server, "login", login)
	return m.Connect(ctx, server, login, password)
}

// Disconnect tears down the broker connection. It bypasses the resilience
// pipeline — there is nothing to retry about giving up a connection.
func (m *Manager) Disconnect() {
	m.broker.Disconnect()
}
