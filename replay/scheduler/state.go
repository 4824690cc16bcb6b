package scheduler

// State is a scheduler lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateDraining  State = "draining"
	StateCompleted State = "completed"
	StateAborted   State = "aborted" // terminal, reached on a fatal error or cancellation
)

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateAborted:   true,
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}
