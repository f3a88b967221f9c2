package tracing

import "github.com/quantasim/quanta"

// TaskStep represents a milestone reached while processing a task.
type TaskStep struct {
	Time quanta.SimTime `json:"time"`
	What string         `json:"what"`
}

// Task is a span of simulated time attributed to one model: something
// the model started doing, may have passed through intermediate steps,
// and eventually finished doing.
type Task struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id"`
	Kind      string         `json:"kind"`
	What      string         `json:"what"`
	Where     string         `json:"where"`
	StartTime quanta.SimTime `json:"start_time"`
	EndTime   quanta.SimTime `json:"end_time"`
	Steps     []TaskStep     `json:"steps"`
	Detail    interface{}    `json:"-"`
}

// TaskFilter reports whether a task is interesting enough to keep.
type TaskFilter func(t Task) bool
