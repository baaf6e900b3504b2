package harness

import "time"

// Policy holds the time budgets of the suspension points and the fault retry
// schedule. The reasoning loop itself has no iteration cap.
type Policy struct {
	SnapshotTimeout  time.Duration // memory snapshot rebuild
	ReasoningTimeout time.Duration // one reasoning call
	ToolTimeout      time.Duration // one tool call
	RetryCount       int           // retries of a failed step before the conversation stalls
	RetryBackoff     time.Duration // base delay, doubled per retry
	RetryMaxInterval time.Duration // cap on a single delay
}

// DefaultPolicy returns the standard budgets.
func DefaultPolicy() *Policy {
	return &Policy{
		SnapshotTimeout:  30 * time.Second,
		ReasoningTimeout: 2 * time.Minute,
		ToolTimeout:      time.Minute,
		RetryCount:       3,
		RetryBackoff:     time.Second,
		RetryMaxInterval: 30 * time.Second,
	}
}
