package job

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path"
	"strings"
)

const (
	// NoStartMsg is the output recorded for jobs that could not be started.
	NoStartMsg = "This test cannot be started."
	// DiscardedMsg is the output recorded for jobs discarded by the scheduler.
	DiscardedMsg = "This test has failed to be scheduled. Discarded."
)

// Job is the smallest schedulable unit of work: a single shell command with
// identity, resource needs, dependencies and a lifecycle state.
//
// A Job is mutated by the Manager (dependency resolution, filtering, picking)
// and by the Runner (execution result). It is never shared between goroutines
// while mutable: the scheduling loop owns it until it is handed off inside a
// Set, and takes ownership back when the Set completes.
type Job struct {
	// Identity. JID is derived from FQName and never changes.
	JID     string
	FQName  string
	TEName  string
	Label   string
	Subtree string
	Tags    []string

	// Resource need vector, most-significant dimension first,
	// conventionally [nodes, cores].
	Resources []int

	// Dependency names as they appear in the descriptor. Resolution turns
	// each name into one or more entries of Deps; Dependees is the
	// transpose and must stay consistent with Deps after any removal.
	DepNames  []string
	Deps      []*Job
	Dependees []*Job

	// Command is the user command; InvocationCmd is the wrapper invocation
	// actually spawned by the runner.
	Command       string
	InvocationCmd string

	// Timeouts in seconds. Zero means no limit.
	SoftTimeout int
	HardTimeout int

	ExpectedRC int

	// Metrics to extract from the output after the run.
	Metrics   []MetricSpec
	Extracted map[string][]string

	// Artifacts maps artifact name to the file the run is expected to
	// produce; ArtifactData holds the collected contents.
	Artifacts    map[string]string
	ArtifactData map[string]string

	// Execution result.
	RC          int
	Time        float64
	Output      string
	hardTimeout bool

	State State

	// AllocID records the resource-tracker allocation backing this job
	// while it runs. Only the scheduling loop reads or writes it.
	AllocID uint64
}

// ComputeJID derives the content-based job id from a fully-qualified name.
func ComputeJID(fqName string) string {
	sum := md5.Sum([]byte(fqName))
	return hex.EncodeToString(sum[:])
}

// FQName builds the fully-qualified name of a job from its coordinates.
func FQName(label, subtree, name string, suffix ...string) string {
	base := path.Clean(path.Join(label, subtree, name))
	parts := []string{base}
	for _, s := range suffix {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "_")
}

// New creates a job in the Waiting state with its id derived from fqName.
func New(fqName string) *Job {
	return &Job{
		JID:         ComputeJID(fqName),
		FQName:      fqName,
		State:       Waiting,
		Resources:   []int{1, 1},
		ExpectedRC:  0,
		SoftTimeout: 0,
		HardTimeout: 0,
	}
}

// BaseName is the dependency-pattern name: the fully-qualified name without
// suffix or combination. Multiple jobs expanded from the same descriptor
// share a base name.
func (j *Job) BaseName() string {
	return FQName(j.Label, j.Subtree, j.TEName)
}

// NbNodes returns the most-significant resource dimension, used to order
// scheduling candidates (larger jobs first).
func (j *Job) NbNodes() int {
	if len(j.Resources) > 0 {
		return j.Resources[0]
	}
	return 1
}

// Pick flags the job as taken by the scheduler.
func (j *Job) Pick() {
	j.State = InProgress
}

// BeenExecuted reports whether the job has reached a terminal state.
func (j *Job) BeenExecuted() bool {
	return j.State.IsTerminal()
}

// ResolveDep records obj as the resolved target of the dependency name.
// Duplicate resolutions of the same object are ignored.
func (j *Job) ResolveDep(name string, obj *Job) {
	found := false
	for _, n := range j.DepNames {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return
	}
	for _, d := range j.Deps {
		if d == obj {
			return
		}
	}
	j.Deps = append(j.Deps, obj)
}

// AddDependee records a job depending on this one.
func (j *Job) AddDependee(dependee *Job) {
	j.Dependees = append(j.Dependees, dependee)
}

// RemoveDependee drops a job from the dependee list.
func (j *Job) RemoveDependee(dependee *Job) {
	for i, d := range j.Dependees {
		if d == dependee {
			j.Dependees = append(j.Dependees[:i], j.Dependees[i+1:]...)
			return
		}
	}
}

// TransposeDeps registers this job as a dependee of each of its dependencies.
func (j *Job) TransposeDeps() {
	for _, d := range j.Deps {
		d.AddDependee(j)
	}
}

// DetachFromDeps strips this job from the dependee lists of its dependencies,
// so that removing it from the pool leaves no dangling back-reference.
func (j *Job) DetachFromDeps() {
	for _, d := range j.Deps {
		d.RemoveDependee(j)
	}
}

// HasCompletedDeps reports whether every dependency has reached a terminal
// state, i.e. the job may be scheduled.
func (j *Job) HasCompletedDeps() bool {
	for _, d := range j.Deps {
		if !d.BeenExecuted() {
			return false
		}
	}
	return true
}

// HasFailedDep reports whether at least one dependency ended in a bad state,
// blocking this job from ever being scheduled.
func (j *Job) HasFailedDep() bool {
	for _, d := range j.Deps {
		if d.State.IsBad() {
			return true
		}
	}
	return false
}

// FirstIncompleteDep returns a dependency that has not reached a terminal
// state yet, or nil if all have.
func (j *Job) FirstIncompleteDep() *Job {
	for _, d := range j.Deps {
		if !d.BeenExecuted() {
			return d
		}
	}
	return nil
}

// ShouldRun applies the run filter to the job's tags. A job with at least one
// live dependee is always kept: something else in the pool needs it.
// The filter maps tag to allow/deny; a deny match excludes the job, an allow
// match includes it, and the presence of any allow entry excludes everything
// not explicitly allowed.
func (j *Job) ShouldRun(filter map[string]bool) bool {
	if len(j.Dependees) > 0 {
		return true
	}
	hasAllow := false
	for tag, allow := range filter {
		if allow {
			hasAllow = true
			if j.hasTag(tag) {
				return true
			}
		} else if j.hasTag(tag) {
			return false
		}
	}
	return !hasAllow
}

func (j *Job) hasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SaveRawRun records the raw outcome of a process run.
func (j *Job) SaveRawRun(rc int, elapsed float64, output string, hardTimeout bool) {
	j.RC = rc
	j.Time = elapsed
	j.Output = output
	j.hardTimeout = hardTimeout
}

// SaveStatus sets the current state.
func (j *Job) SaveStatus(state State) {
	j.State = state
}

// SaveFinalResult records a complete result in one shot, used for jobs that
// never ran. When state is left to Waiting the outcome is derived from the
// return code.
func (j *Job) SaveFinalResult(rc int, elapsed float64, output string, state State) {
	j.SaveRawRun(rc, elapsed, output, false)
	if !state.IsTerminal() {
		if rc == j.ExpectedRC {
			state = Success
		} else {
			state = Failure
		}
	}
	j.SaveStatus(state)
}

// SaveArtifacts reads the declared artifact files into the job record.
// Missing files are skipped: a failed run may not have produced them.
func (j *Job) SaveArtifacts() {
	for name, file := range j.Artifacts {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if j.ArtifactData == nil {
			j.ArtifactData = make(map[string]string, len(j.Artifacts))
		}
		j.ArtifactData[name] = string(data)
	}
}

// Evaluate turns a raw execution outcome into a terminal state: a hard
// timeout always wins, then the return code is checked against the expected
// one, then a successful run slower than the soft timeout is downgraded to
// SoftTimeout.
func (j *Job) Evaluate() {
	if j.hardTimeout {
		j.State = HardTimeout
		return
	}
	state := Success
	if j.RC != j.ExpectedRC {
		state = Failure
	}
	if state == Success && j.SoftTimeout > 0 && j.Time > float64(j.SoftTimeout) {
		state = SoftTimeout
	}
	j.State = state
}

// B64Output returns the captured output encoded for the remote handoff.
func (j *Job) B64Output() []byte {
	return []byte(base64.StdEncoding.EncodeToString([]byte(j.Output)))
}

// SetB64Output decodes output captured through the remote handoff.
func (j *Job) SetB64Output(data []byte) error {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return err
	}
	j.Output = string(raw)
	return nil
}
