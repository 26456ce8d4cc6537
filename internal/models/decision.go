package models

import "time"

// Outcome is the terminal state of a query decision.
type Outcome string

const (
	// OutcomeHit means a cached response was served.
	OutcomeHit Outcome = "HIT"
	// OutcomeMiss means the generative provider was consulted.
	OutcomeMiss Outcome = "MISS"
)

// Decision is the result of one query through the decision engine. It carries the
// per-query metrics instead of the engine keeping hit/miss counters.
type Decision struct {
	Outcome    Outcome       `json:"outcome"`
	Response   string        `json:"response"`
	Similarity float64       `json:"similarity"`
	RecordID   uint64        `json:"record_id"`
	Candidates int           `json:"candidates"`
	Latency    time.Duration `json:"-"`
	Shared     bool          `json:"shared,omitempty"` // result reused from a concurrent identical miss
}

// Hit reports whether the decision served a cached response.
func (d *Decision) Hit() bool {
	return d != nil && d.Outcome == OutcomeHit
}
