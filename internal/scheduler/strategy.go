package scheduler

import "github.com/pcvs-project/pcvs/internal/job"

// SetStrategy fully replaces the default batch-construction algorithm when
// registered. It receives the manager and the per-round job limit the
// default algorithm would have used, and returns the next Set to run or nil
// when nothing is schedulable this round.
type SetStrategy interface {
	EvalSet(m *Manager, maxJobLimit int) *Set
}

// JobStrategy replaces only the per-candidate resource-allocation decision of
// the default algorithm. Returning true schedules the job into the set being
// built.
type JobStrategy interface {
	EvalJob(j *job.Job, s *Set) bool
}

// Hooks groups the optional scheduling plugin points. Nil fields fall back
// to the built-in behaviour.
type Hooks struct {
	// BeforeSet and AfterSet run around every CreateSubset call,
	// regardless of which algorithm builds the Set.
	BeforeSet func()
	AfterSet  func()

	Set SetStrategy
	Job JobStrategy
}
