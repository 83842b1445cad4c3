package executor

// State classifies the result of one sync attempt
type State int

const (
	// Success means the executor exited zero
	Success State = iota
	// Retryable means the attempt failed but a further attempt may succeed
	Retryable
	// Fatal means no further attempt should be made
	Fatal
)

// Outcome is the tri-state result of one sync attempt. Callers branch on
// State rather than on error types.
type Outcome struct {
	State  State
	Reason string
}

func succeeded() Outcome {
	return Outcome{State: Success}
}

func retryable(reason string) Outcome {
	return Outcome{State: Retryable, Reason: reason}
}

func fatal(reason string) Outcome {
	return Outcome{State: Fatal, Reason: reason}
}
