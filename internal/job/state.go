package job

// State tracks a job through its lifecycle. A job starts WAITING, moves to
// IN_PROGRESS once picked by the scheduler, to EXECUTED once its process has
// returned, and finally to one of the terminal states once its result has
// been evaluated.
type State int

const (
	Waiting State = iota
	InProgress
	Executed
	Success
	Failure
	SoftTimeout
	HardTimeout
	ErrDep
	ErrOther
)

var stateNames = map[State]string{
	Waiting:     "WAITING",
	InProgress:  "IN_PROGRESS",
	Executed:    "EXECUTED",
	Success:     "SUCCESS",
	Failure:     "FAILURE",
	SoftTimeout: "SOFT_TIMEOUT",
	HardTimeout: "HARD_TIMEOUT",
	ErrDep:      "ERR_DEP",
	ErrOther:    "ERR_OTHER",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// StateFromString maps a serialized state name back to its State value.
// Unknown names map to ErrOther.
func StateFromString(name string) State {
	for state, stateName := range stateNames {
		if stateName == name {
			return state
		}
	}
	return ErrOther
}

// IsTerminal reports whether no further transition can occur from s.
func (s State) IsTerminal() bool {
	switch s {
	case Waiting, InProgress, Executed:
		return false
	}
	return true
}

// IsBad reports whether s represents a failed job. SoftTimeout is excluded:
// the job passed, it was just slower than expected.
func (s State) IsBad() bool {
	switch s {
	case Failure, HardTimeout, ErrDep, ErrOther:
		return true
	}
	return false
}

// TerminalStates lists every state a published job may carry.
func TerminalStates() []State {
	return []State{Success, Failure, SoftTimeout, HardTimeout, ErrDep, ErrOther}
}
