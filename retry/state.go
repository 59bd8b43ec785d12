package retry

import "fmt"

// State is the lifecycle position of a run.
//
//	Idle -> Attempting -> {Succeeded, Retrying -> Attempting, Failed, TimedOutFinal, DeadlineExceededFinal}
//
// Canceled is reachable from every non-terminal state when the caller's context ends.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateRetrying
	StateSucceeded
	StateFailed
	StateTimedOutFinal
	StateDeadlineExceededFinal
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAttempting:
		return "Attempting"
	case StateRetrying:
		return "Retrying"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	case StateTimedOutFinal:
		return "TimedOutFinal"
	case StateDeadlineExceededFinal:
		return "DeadlineExceededFinal"
	case StateCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOutFinal, StateDeadlineExceededFinal, StateCanceled:
		return true
	case StateIdle, StateAttempting, StateRetrying:
		return false
	default:
		return false
	}
}

//nolint:gochecknoglobals
var transitions = map[State][]State{
	StateIdle: {
		StateAttempting, StateFailed, StateDeadlineExceededFinal, StateCanceled,
	},
	StateAttempting: {
		StateSucceeded, StateRetrying, StateFailed, StateTimedOutFinal, StateDeadlineExceededFinal, StateCanceled,
	},
	StateRetrying: {
		StateAttempting, StateDeadlineExceededFinal, StateCanceled,
	},
}

func (s State) canTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// finalState maps a failure kind to the terminal state it settles in.
func finalState(kind Kind) State {
	switch kind {
	case KindTimeoutExceeded:
		return StateTimedOutFinal
	case KindDeadlineExceeded:
		return StateDeadlineExceededFinal
	case KindCanceled:
		return StateCanceled
	case KindInvalidConfiguration, KindOperationFailure:
		return StateFailed
	default:
		return StateFailed
	}
}
