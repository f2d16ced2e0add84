// Package tracker records trade results and exposes aggregate and
// per-client statistics over the lifetime of a run.
package tracker

import (
	"sync"

	"dealengine/internal/core"
)

// Stats is a snapshot of outcome counts bucketed per the dispatch engine's
// status taxonomy: SUCCESS, DUPLICATE, {REJECTED, MARGIN_ERROR,
// RETRY_EXHAUSTED} -> rejected, {CONNECTION_ERROR, INVALID_PARAMS} -> errors.
type Stats struct {
	TotalRequests int
	Successful    int
	Rejected      int
	Errors        int
	Duplicates    int
}

// SuccessRate returns the successful fraction as a percentage, or 0 when no
// requests have been recorded.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return 100.0 * float64(s.Successful) / float64(s.TotalRequests)
}

// ResultTracker is a concurrent result store keyed by request ID, with a
// secondary client ID -> request IDs index for per-client queries. One
// mutex guards both indexes since they are always updated together.
type ResultTracker struct {
	mu             sync.Mutex
	results        map[string]core.TradeResult
	clientRequests map[string][]string
}

// New creates an empty ResultTracker.
func New() *ResultTracker {
	return &ResultTracker{
		results:        make(map[string]core.TradeResult),
		clientRequests: make(map[string][]string),
	}
}

// Record stores result, indexed by its RequestID and appended to its
// ClientID's request list. Recording a RequestID that is already stored
// (as happens when a DUPLICATE result is recorded) overwrites the prior
// result and appends the RequestID to the client's list a second time.
func (t *ResultTracker) Record(result core.TradeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[result.RequestID] = result
	t.clientRequests[result.ClientID] = append(t.clientRequests[result.ClientID], result.RequestID)
}

// GetByRequestID returns the stored result for requestID, if any.
func (t *ResultTracker) GetByRequestID(requestID string) (core.TradeResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.results[requestID]
	return r, ok
}

// GetByClientID returns every recorded result for clientID, in the order
// the results were recorded.
func (t *ResultTracker) GetByClientID(clientID string) []core.TradeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids, ok := t.clientRequests[clientID]
	if !ok {
		return nil
	}
	out := make([]core.TradeResult, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.results[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// GetStats returns aggregate counts across every recorded result.
func (t *ResultTracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	for _, r := range t.results {
		s.TotalRequests++
		bucket(&s, r.Status)
	}
	return s
}

// GetClientStats returns aggregate counts scoped to a single client.
func (t *ResultTracker) GetClientStats(clientID string) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	ids, ok := t.clientRequests[clientID]
	if !ok {
		return s
	}
	for _, id := range ids {
		r, ok := t.results[id]
		if !ok {
			continue
		}
		s.TotalRequests++
		bucket(&s, r.Status)
	}
	return s
}

func bucket(s *Stats, status core.TradeStatus) {
	switch status {
	case core.Success:
		s.Successful++
	case core.Duplicate:
		s.Duplicates++
	case core.Rejected, core.MarginError, core.RetryExhausted:
		s.Rejected++
	case core.ConnectionError, core.InvalidParams:
		s.Errors++
	}
}

// Snapshot is a point-in-time copy of every recorded result, keyed by
// client ID, used by callers (e.g. the console summary printer) that need
// to iterate all clients without holding the tracker's lock.
func (t *ResultTracker) Snapshot() map[string][]core.TradeResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]core.TradeResult, len(t.clientRequests))
	for clientID, ids := range t.clientRequests {
		results := make([]core.TradeResult, 0, len(ids))
		for _, id := range ids {
			if r, ok := t.results[id]; ok {
				results = append(results, r)
			}
		}
		out[clientID] = results
	}
	return out
}
