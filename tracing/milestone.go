package tracing

import "github.com/quantasim/quanta"

// Milestone marks a point where a task was blocked on something.
type Milestone struct {
	ID               string         `json:"id"`
	TaskID           string         `json:"task_id"`
	BlockingCategory string         `json:"blocking_category"`
	BlockingReason   string         `json:"blocking_reason"`
	BlockingLocation string         `json:"blocking_location"`
	Time             quanta.SimTime `json:"time"`
}
