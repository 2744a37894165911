package agent

// State is a phase of the session control loop.
type State string

const (
	StatePlanning         State = "PLANNING"          // Waiting on the planner for the next raw plan.
	StateValidating       State = "VALIDATING"        // Decoding the raw plan into an Action.
	StateSuppressionCheck State = "SUPPRESSION_CHECK" // Deciding whether the action repeats too often.
	StateExecuting        State = "EXECUTING"         // The browser surface is running the action.
	StateObserving        State = "OBSERVING"         // Recording the observation and checking the budget.
	StateTerminating      State = "TERMINATING"       // History is frozen into a result.
	StateSummarizing      State = "SUMMARIZING"       // Optional synthesis over the full history.
	StateDone             State = "DONE"              // Terminal.
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateDone }

// afterTermination reports whether the state belongs to the wind-down phase.
// Once a session reaches it, the loop states are never entered again.
func (s State) afterTermination() bool {
	return s == StateTerminating || s == StateSummarizing || s == StateDone
}
