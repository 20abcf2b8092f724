package app

import "time"

// RunState is the lifecycle stage reported by a RunEvent.
type RunState string

const (
	RunStarted   RunState = "started"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunEvent is published on the service bus for every run transition.
type RunEvent struct {
	State RunState
	RunID string
	Name  string
	Time  time.Time
	// Err is set on RunFailed.
	Err error
}
