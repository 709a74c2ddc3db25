package scheduler

import (
	"fmt"
	"strings"
)

// ErrUndefinedDependency indicates a dependency name that matches no job in
// the pool, neither as an exact id nor as a base-name pattern. It is
// structural: scheduling must not start.
type ErrUndefinedDependency struct {
	Name string
}

func (err *ErrUndefinedDependency) Error() string {
	return fmt.Sprintf("dependency %q does not match any job", err.Name)
}

// ErrCircularDependency indicates a dependency chain that revisits one of
// its ancestors. Chain holds the names walked before the cycle was detected.
type ErrCircularDependency struct {
	Chain []string
}

func (err *ErrCircularDependency) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(err.Chain, " -> "))
}

// ErrLaunch indicates the remote wrapper process failed to start or exited
// abnormally. The offending Set's jobs are left unresolved; other Sets
// continue.
type ErrLaunch struct {
	Cmd     string
	Message string
}

func (err *ErrLaunch) Error() string {
	if err.Message != "" {
		return fmt.Sprintf("failed to launch %q: %s", err.Cmd, err.Message)
	}
	return fmt.Sprintf("failed to launch %q", err.Cmd)
}
