// Package validator performs deterministic, in-process checks on a
// TradeRequest before it reaches the broker.
package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dealengine/internal/core"
	apperrors "dealengine/pkg/errors"
)

// Validator runs the pre-execution checks described by the dispatch engine
// design: deduplication, identity, volume positivity, symbol existence,
// trade permission, volume range, and SL/TP sanity, first failure wins.
// It does not check volume-step alignment — that is left to the broker.
type Validator struct {
	broker core.BrokerAPI
	logger core.Logger

	dedupMu sync.Mutex
	seen    map[string]struct{}
}

// New creates a Validator backed by broker for symbol lookups.
func New(broker core.BrokerAPI, logger core.Logger) *Validator {
	return &Validator{
		broker: broker,
		logger: logger.WithField("component", "validator"),
		seen:   make(map[string]struct{}),
	}
}

// Validate returns a terminal TradeResult if the request should be
// rejected before ever reaching the broker, or rejected=false if it passed
// every check and may proceed to execution.
func (v *Validator) Validate(ctx context.Context, req core.TradeRequest) (result core.TradeResult, rejected bool) {
	// 1. Deduplication: lookup and insert must be one atomic critical section.
	if v.markSeen(req.RequestID) {
		v.logger.Warn("duplicate request detected", "request_id", req.RequestID)
		return v.reject(req, core.Duplicate, fmt.Errorf("%w: request ID %s", apperrors.ErrDuplicateOrder, req.RequestID)), true
	}

	// 2. Identity.
	if req.ClientID == "" {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: empty client ID", apperrors.ErrInvalidOrderParameter)), true
	}
	if req.Symbol == "" {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: empty symbol", apperrors.ErrInvalidOrderParameter)), true
	}

	// 3. Volume positivity.
	if !req.Volume.IsPositive() {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: volume %s", apperrors.ErrInvalidOrderParameter, req.Volume.String())), true
	}

	// 4. Symbol existence.
	info, ok := v.broker.GetSymbolInfo(ctx, req.Symbol)
	if !ok {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, req.Symbol)), true
	}

	// 5. Trade permission.
	if !info.TradeAllowed {
		return v.reject(req, core.Rejected, fmt.Errorf("%w: trading not allowed for %s", apperrors.ErrOrderRejected, req.Symbol)), true
	}

	// 6. Volume range.
	if req.Volume.LessThan(info.MinVolume) || req.Volume.GreaterThan(info.MaxVolume) {
		return v.reject(req, core.InvalidParams, fmt.Errorf(
			"%w: volume %s outside range [%s, %s]", apperrors.ErrInvalidOrderParameter, req.Volume, info.MinVolume, info.MaxVolume)), true
	}

	// 7. SL/TP sanity.
	if req.StopLoss != nil && !req.StopLoss.IsPositive() {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: stop loss %s", apperrors.ErrInvalidOrderParameter, req.StopLoss.String())), true
	}
	if req.TakeProfit != nil && !req.TakeProfit.IsPositive() {
		return v.reject(req, core.InvalidParams, fmt.Errorf("%w: take profit %s", apperrors.ErrInvalidOrderParameter, req.TakeProfit.String())), true
	}

	return core.TradeResult{}, false
}

// markSeen atomically checks and inserts requestID into the dedup set,
// reporting whether it had already been seen.
func (v *Validator) markSeen(requestID string) bool {
	v.dedupMu.Lock()
	defer v.dedupMu.Unlock()
	if _, exists := v.seen[requestID]; exists {
		return true
	}
	v.seen[requestID] = struct{}{}
	return false
}

func (v *Validator) reject(req core.TradeRequest, status core.TradeStatus, err error) core.TradeResult {
	return core.TradeResult{
		RequestID:    req.RequestID,
		ClientID:     req.ClientID,
		Status:       status,
		ErrorMessage: err.Error(),
		RetryCount:   0,
		Timestamp:    time.Now(),
	}
}
