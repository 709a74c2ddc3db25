// Package results defines the contract between the orchestration core and
// the result storage layer, together with a file-backed implementation.
package results

import "github.com/pcvs-project/pcvs/internal/job"

// Publisher receives every job exactly once, after it has reached a terminal
// state. Implementations own persistence; the scheduler never reads results
// back.
type Publisher interface {
	Save(j *job.Job) error
	Close() error
}

// Discard is a Publisher that drops everything, for tests and dry runs.
type Discard struct{}

func (Discard) Save(*job.Job) error { return nil }
func (Discard) Close() error        { return nil }
