package scheduler

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pcvs-project/pcvs/internal/job"
)

// ExecMode selects where and how a Set runs.
type ExecMode int

const (
	// Local runs every member as an in-process subprocess invocation.
	Local ExecMode = iota
	// Alloc runs the Set inside a resource-manager allocation.
	Alloc
	// Remote runs the Set on a remote host.
	Remote
	// Batch submits the Set to a batch system.
	Batch
)

var execModeNames = map[ExecMode]string{
	Local:  "LOCAL",
	Alloc:  "ALLOC",
	Remote: "REMOTE",
	Batch:  "BATCH",
}

func (m ExecMode) String() string {
	if name, ok := execModeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

var setCounter uint64

// Set is a batch of one or more jobs dispatched together under a single
// execution mode. Once handed to the runner a Set must not be mutated; the
// runner only fills in execution results on its member jobs and flips
// Completed.
type Set struct {
	ID        uint64
	Mode      ExecMode
	Jobs      []*job.Job
	Completed bool
}

// NewSet creates an empty Set with a process-unique id.
func NewSet(mode ExecMode) *Set {
	return &Set{
		ID:   atomic.AddUint64(&setCounter, 1),
		Mode: mode,
	}
}

// Add appends a job to the Set. A Set is either fully local or fully remote;
// the mode is fixed at construction and members cannot change it.
func (s *Set) Add(j *job.Job) error {
	if s.Completed {
		return errors.Errorf("set %d is completed, cannot add job %s", s.ID, j.JID)
	}
	s.Jobs = append(s.Jobs, j)
	return nil
}

// Size returns the number of member jobs.
func (s *Set) Size() int {
	return len(s.Jobs)
}

// Dim is the maximum primary resource footprint among members, exported to
// the remote wrapper as a sizing hint.
func (s *Set) Dim() int {
	dim := 0
	for _, j := range s.Jobs {
		if n := j.NbNodes(); n > dim {
			dim = n
		}
	}
	return dim
}

// Find returns the member with the given job id, or nil.
func (s *Set) Find(jid string) *job.Job {
	for _, j := range s.Jobs {
		if j.JID == jid {
			return j
		}
	}
	return nil
}
