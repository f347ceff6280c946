// Package order executes strategy orders off the ingestion path and applies
// broker order updates to the local book.
package order

import (
	"time"

	"daytrading-core/pkg/broker"
)

// Job is one order intent handed from the runner to the executor. The
// client order id is assigned on the first attempt and kept across retries,
// so a Job must be passed by pointer between attempts.
type Job struct {
	RunID      int64
	StrategyID int64
	Mode       string
	Request    broker.OrderRequest
	StopLoss   *float64
	TakeProfit *float64
	Note       string
	Reason     string

	Attempt    int
	EnqueuedAt time.Time
}
