package coordinator

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// observe counts an operation and records its duration
func observe(op string, start time.Time) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`storekit_operations_total{op=%q}`, op)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`storekit_operation_duration_seconds{op=%q}`, op)).
		Update(time.Since(start).Seconds())
}

// countSubRequest counts one terminal sub-request
func countSubRequest(op string, s State) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`storekit_subrequests_total{op=%q,state=%q}`, op, s)).Inc()
}

// countOpenFailure counts an operation that failed before its fan-out
func countOpenFailure(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`storekit_open_failures_total{op=%q}`, op)).Inc()
}
