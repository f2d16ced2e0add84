package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"dealengine/internal/core"
	"dealengine/internal/tracker"
)

const summaryRule = "================================================================"

// printSummary renders the end-of-run report: aggregate stats, a
// per-client breakdown table, and a request-ID -> ticket-ID mapping for
// every successful trade. Mirrors original_source's
// ResultTracker::printSummary section-for-section.
func printSummary(w io.Writer, t *tracker.ResultTracker) {
	stats := t.GetStats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, summaryRule)
	fmt.Fprintln(w, "                    EXECUTION SUMMARY")
	fmt.Fprintln(w, summaryRule)
	fmt.Fprintf(w, "  Total Requests:   %d\n", stats.TotalRequests)
	fmt.Fprintf(w, "  Successful:       %d\n", stats.Successful)
	fmt.Fprintf(w, "  Rejected:         %d\n", stats.Rejected)
	fmt.Fprintf(w, "  Errors:           %d\n", stats.Errors)
	fmt.Fprintf(w, "  Duplicates:       %d\n", stats.Duplicates)
	fmt.Fprintf(w, "  Success Rate:     %.1f%%\n", stats.SuccessRate())
	fmt.Fprintln(w, summaryRule)

	snapshot := t.Snapshot()
	clientIDs := make([]string, 0, len(snapshot))
	for clientID := range snapshot {
		clientIDs = append(clientIDs, clientID)
	}
	sort.Strings(clientIDs)

	fmt.Fprintln(w, "\n  Per-Client Breakdown:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  Client\tTotal\tOK\tFail\tDup")
	for _, clientID := range clientIDs {
		results := snapshot[clientID]
		var ok, fail, dup int
		for _, r := range results {
			switch {
			case r.IsSuccess():
				ok++
			case r.Status == core.Duplicate:
				dup++
			default:
				fail++
			}
		}
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\n", clientID, len(results), ok, fail, dup)
	}
	tw.Flush()

	fmt.Fprintln(w, "\n  Request ID -> MT Ticket Mapping (successful trades):")
	tw2 := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw2, "  Request ID\tTicket\tPrice")
	requestIDs := make([]string, 0)
	for _, results := range snapshot {
		for _, r := range results {
			if r.IsSuccess() {
				requestIDs = append(requestIDs, r.RequestID)
			}
		}
	}
	sort.Strings(requestIDs)
	byRequestID := make(map[string]core.TradeResult, len(requestIDs))
	for _, results := range snapshot {
		for _, r := range results {
			if r.IsSuccess() {
				byRequestID[r.RequestID] = r
			}
		}
	}
	for _, id := range requestIDs {
		r := byRequestID[id]
		fmt.Fprintf(tw2, "  %s\t#%s\t%s\n", r.RequestID, r.TicketID, r.ExecutionPrice.StringFixed(5))
	}
	tw2.Flush()

	fmt.Fprintln(w, summaryRule)
	fmt.Fprintln(w)
}
