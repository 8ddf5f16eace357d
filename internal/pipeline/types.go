package pipeline

import "time"

// FailureKind classifies an unsuccessful Result.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureNotFound     FailureKind = "not_found"
	FailureInvalidImage FailureKind = "invalid_image"
	FailureCancelled    FailureKind = "cancelled"
)

// Tier names.
const (
	TierNative = "native"
	TierML     = "ml"
	TierRemote = "remote"
)

// StrategyMLPrefix prefixes a detector variant in an ML strategy name.
const StrategyMLPrefix = "yolo-"

// Attempt is one strategy invocation within a request.
type Attempt struct {
	Strategy  string        `json:"strategy"`
	Tier      string        `json:"tier"`
	Success   bool          `json:"success"`
	Payload   string        `json:"payload,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs float64       `json:"elapsed_ms"`
	Err       string        `json:"error,omitempty"`
}

// Result is the outcome of one detection request.
type Result struct {
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Payload   string        `json:"payload,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs float64       `json:"elapsed_ms"`
	Attempts  []Attempt     `json:"attempts"`
	Failure   FailureKind   `json:"failure,omitempty"`
	Err       string        `json:"error,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func newAttempt(tier, strategy string, elapsed time.Duration) Attempt {
	return Attempt{Strategy: strategy, Tier: tier, Elapsed: elapsed, ElapsedMs: millis(elapsed)}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
