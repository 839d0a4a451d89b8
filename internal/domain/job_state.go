package domain

// JobState represents the current state of a download Job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transition is permitted out of s.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one state to another is allowed.
// Transitions are monotonic: queued may start running or be cancelled, running
// may reach any terminal state, terminal states are final.
func CanTransition(from, to JobState) bool {
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to.Terminal()
	}
	return false
}

// FailureCode distinguishes classes of job failure in the error taxonomy.
type FailureCode string

const (
	FailureSpawn   FailureCode = "spawn_error"
	FailureRuntime FailureCode = "runtime_failure"
	FailureTimeout FailureCode = "timeout"
	FailureStorage FailureCode = "storage_error"
)
