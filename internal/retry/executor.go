// Package retry executes a trade against the broker, retrying transient
// failures with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"dealengine/internal/core"
)

// Config controls the backoff schedule. MaxRetries is the number of
// retries after the first attempt, so MaxRetries+1 total attempts are
// made. Delay before attempt n (n >= 1) is RetryBaseMs * 2^(n-1).
type Config struct {
	MaxRetries  int
	RetryBaseMs int
}

// DefaultConfig matches the reference dispatch engine's defaults: 3
// retries, 100ms base delay (100ms, 200ms, 400ms, ...).
var DefaultConfig = Config{MaxRetries: 3, RetryBaseMs: 100}

// Executor retries BrokerAPI.ExecuteTrade according to Config, classifying
// each outcome via TradeResult.Status.Retryable().
type Executor struct {
	broker core.BrokerAPI
	logger core.Logger
	config Config
}

// New creates an Executor bound to broker.
func New(broker core.BrokerAPI, logger core.Logger, config Config) *Executor {
	return &Executor{
		broker: broker,
		logger: logger.WithField("component", "retry_executor"),
		config: config,
	}
}

// Execute submits req to the broker, retrying on retryable failures until
// it succeeds, fails permanently, or exhausts config.MaxRetries. The
// returned TradeResult.RetryCount is the zero-based index of the last
// attempt made.
func (e *Executor) Execute(ctx context.Context, req core.TradeRequest) core.TradeResult {
	var result core.TradeResult

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoffDelay(attempt)
			e.logger.Warn("retrying request",
				"request_id", req.RequestID,
				"attempt", attempt+1,
				"max_attempts", e.config.MaxRetries+1,
				"delay_ms", delay.Milliseconds())

			select {
			case <-ctx.Done():
				result.Status = core.RetryExhausted
				result.ErrorMessage = fmt.Sprintf("context canceled during retry backoff: %v", ctx.Err())
				result.RetryCount = attempt - 1
				return result
			case <-time.After(delay):
			}
		}

		result = e.broker.ExecuteTrade(ctx, req)
		result.RetryCount = attempt

		if result.IsSuccess() || !result.Status.Retryable() {
			return result
		}

		e.logger.Warn("transient failure", "request_id", req.RequestID, "error", result.ErrorMessage)
	}

	lastErr := result.ErrorMessage
	result.Status = core.RetryExhausted
	result.ErrorMessage = fmt.Sprintf("all %d attempts failed. Last error: %s", e.config.MaxRetries+1, lastErr)
	result.RetryCount = e.config.MaxRetries
	return result
}

// backoffDelay returns the delay before attempt n (n >= 1): base * 2^(n-1).
func (e *Executor) backoffDelay(attempt int) time.Duration {
	return time.Duration(e.config.RetryBaseMs*(1<<uint(attempt-1))) * time.Millisecond
}
