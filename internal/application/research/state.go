package research

import (
	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

// RunState is one position in a research run's attempt loop.
type RunState int

const (
	StateIdle RunState = iota + 1
	StateAttempting
	StateScoring
	StateAccepted
	StateRetrying
	StateExhausted
)

// String returns the lowercase state name.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateScoring:
		return "scoring"
	case StateAccepted:
		return "accepted"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether a run in this state is finished.
func (s RunState) Terminal() bool {
	return s == StateAccepted || s == StateExhausted
}

// validNext is the state chart of the attempt loop. Accepted and Exhausted
// are terminal. Retrying may fall through to Exhausted when the run is
// cancelled during the inter-attempt delay.
var validNext = map[RunState][]RunState{
	StateIdle:       {StateAttempting},
	StateAttempting: {StateScoring},
	StateScoring:    {StateAccepted, StateRetrying, StateExhausted},
	StateRetrying:   {StateAttempting, StateExhausted},
}

// ValidTransition reports whether the attempt loop may move between two
// states.
func ValidTransition(from, to RunState) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// runMachine tracks one run through the state chart. It is owned by a
// single goroutine for the lifetime of the run.
type runMachine struct {
	state  RunState
	logger logging.Logger
}

func newRunMachine(logger logging.Logger) *runMachine {
	return &runMachine{state: StateIdle, logger: logger}
}

// to advances the run. A transition outside the chart means the attempt
// loop is broken; it is logged as an error and honored so a live run never
// wedges.
func (m *runMachine) to(next RunState) {
	if !ValidTransition(m.state, next) {
		m.logger.Error("invalid run state transition",
			logging.String("from", m.state.String()),
			logging.String("to", next.String()),
		)
	}
	m.state = next
}
