package tracker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealengine/internal/core"
)

func result(requestID, clientID string, status core.TradeStatus) core.TradeResult {
	return core.TradeResult{RequestID: requestID, ClientID: clientID, Status: status}
}

func TestResultTracker_RecordAndGetByRequestID(t *testing.T) {
	tr := New()
	tr.Record(result("r1", "c1", core.Success))

	r, ok := tr.GetByRequestID("r1")
	require.True(t, ok)
	assert.Equal(t, core.Success, r.Status)

	_, ok = tr.GetByRequestID("missing")
	assert.False(t, ok)
}

func TestResultTracker_GetByClientIDPreservesOrder(t *testing.T) {
	tr := New()
	tr.Record(result("r1", "c1", core.Success))
	tr.Record(result("r2", "c1", core.Rejected))
	tr.Record(result("r3", "c2", core.Success))

	results := tr.GetByClientID("c1")
	require.Len(t, results, 2)
	assert.Equal(t, "r1", results[0].RequestID)
	assert.Equal(t, "r2", results[1].RequestID)

	assert.Empty(t, tr.GetByClientID("unknown"))
}

func TestResultTracker_GetStatsBucketsByStatus(t *testing.T) {
	tr := New()
	tr.Record(result("r1", "c1", core.Success))
	tr.Record(result("r2", "c1", core.Duplicate))
	tr.Record(result("r3", "c1", core.Rejected))
	tr.Record(result("r4", "c1", core.MarginError))
	tr.Record(result("r5", "c1", core.RetryExhausted))
	tr.Record(result("r6", "c1", core.ConnectionError))
	tr.Record(result("r7", "c1", core.InvalidParams))

	stats := tr.GetStats()
	assert.Equal(t, 7, stats.TotalRequests)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 3, stats.Rejected)
	assert.Equal(t, 2, stats.Errors)
}

func TestResultTracker_SuccessRate(t *testing.T) {
	tr := New()
	assert.Equal(t, 0.0, tr.GetStats().SuccessRate())

	tr.Record(result("r1", "c1", core.Success))
	tr.Record(result("r2", "c1", core.Rejected))
	assert.InDelta(t, 50.0, tr.GetStats().SuccessRate(), 0.001)
}

func TestResultTracker_GetClientStatsIsScoped(t *testing.T) {
	tr := New()
	tr.Record(result("r1", "c1", core.Success))
	tr.Record(result("r2", "c2", core.Rejected))

	stats := tr.GetClientStats("c1")
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 1, stats.Successful)

	assert.Equal(t, Stats{}, tr.GetClientStats("unknown"))
}

func TestResultTracker_SnapshotCoversAllClients(t *testing.T) {
	tr := New()
	tr.Record(result("r1", "c1", core.Success))
	tr.Record(result("r2", "c2", core.Rejected))

	snap := tr.Snapshot()
	assert.Len(t, snap, 2)
	assert.Len(t, snap["c1"], 1)
	assert.Len(t, snap["c2"], 1)
}

func TestResultTracker_ConcurrentRecordAndRead(t *testing.T) {
	tr := New()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			clientID := fmt.Sprintf("client-%d", i%5)
			tr.Record(result(fmt.Sprintf("req-%d", i), clientID, core.Success))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, tr.GetStats().TotalRequests)
}
