// Package scheduler owns the job pool: dependency resolution, tag filtering
// and the scheduling algorithm turning ready jobs into executable Sets.
package scheduler

import (
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/results"
	"github.com/pcvs-project/pcvs/internal/scheduler/resource"
)

// Manager gathers jobs and extracts ready-to-run Sets from them. It is not
// safe for concurrent use: the scheduling loop, the tracker and the pool
// must all be driven from a single goroutine. Completed Sets produced by the
// runner are handed back through MergeSubset on that same goroutine.
type Manager struct {
	// pool maps job id to job. Jobs leave the pool when picked into a
	// Set, published, or filtered out.
	pool map[string]*job.Job

	// depRules buckets jobs by base name: a dependency name may resolve
	// to every job expanded from the same descriptor.
	depRules map[string][]*job.Job

	publisher   results.Publisher
	hooks       Hooks
	concurrency int

	total    int
	executed int
	byState  map[job.State]int
}

// NewManager creates an empty manager publishing through the given publisher.
// concurrency is the configured level of parallel execution, used to size
// the per-round job limit handed to Set strategies.
func NewManager(publisher results.Publisher, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		pool:        map[string]*job.Job{},
		depRules:    map[string][]*job.Job{},
		publisher:   publisher,
		concurrency: concurrency,
		byState:     map[job.State]int{},
	}
}

// SetHooks registers the scheduling plugin points.
func (m *Manager) SetHooks(hooks Hooks) {
	m.hooks = hooks
}

// AddJob inserts a job into the pool, keyed by its id. Adding a job twice is
// a no-op.
func (m *Manager) AddJob(j *job.Job) {
	if _, ok := m.pool[j.JID]; ok {
		return
	}
	m.pool[j.JID] = j
	m.total++
	pendingGauge.Inc()
	m.depRules[j.BaseName()] = append(m.depRules[j.BaseName()], j)
}

// GetJob returns the pooled job with the given id, or nil.
func (m *Manager) GetJob(jid string) *job.Job {
	return m.pool[jid]
}

// TotalCount returns the number of jobs ever added, minus those filtered out.
func (m *Manager) TotalCount() int { return m.total }

// ExecutedCount returns the number of jobs published so far.
func (m *Manager) ExecutedCount() int { return m.executed }

// LeftCount returns the number of jobs still to be published.
func (m *Manager) LeftCount() int { return m.total - m.executed }

// CountByState returns how many published jobs ended in the given state.
func (m *Manager) CountByState(s job.State) int { return m.byState[s] }

// ResolveDependencies converts every dependency name in the pool into
// concrete job references. Names resolve first as exact job ids, then
// against the base-name buckets. Structural problems (unknown names, cycles)
// are aggregated and returned before any execution starts; a pool with a
// non-nil resolution error must not be scheduled.
func (m *Manager) ResolveDependencies() error {
	var result *multierror.Error
	for _, j := range m.pool {
		if err := m.resolveJobDeps(j, nil); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// resolveJobDeps resolves one job's dependency subtree. seen carries the
// names on the current ancestor chain; a name showing up twice means a
// cycle. The chain is copied before descending so one sibling's walk cannot
// contaminate another's cycle check.
func (m *Manager) resolveJobDeps(j *job.Job, seen []string) error {
	chain := make([]string, len(seen), len(seen)+1)
	copy(chain, seen)
	chain = append(chain, j.FQName)

	for _, depName := range j.DepNames {
		var candidates []*job.Job
		if dep, ok := m.pool[job.ComputeJID(depName)]; ok {
			candidates = []*job.Job{dep}
		} else if bucket, ok := m.depRules[depName]; ok {
			candidates = bucket
		} else {
			return &ErrUndefinedDependency{Name: depName}
		}

		for _, dep := range candidates {
			for _, ancestor := range chain {
				if dep.FQName == ancestor {
					return &ErrCircularDependency{Chain: append(chain, dep.FQName)}
				}
			}
			if err := m.resolveJobDeps(dep, chain); err != nil {
				return err
			}
			j.ResolveDep(depName, dep)
		}
	}
	return nil
}

// FilterByTags removes jobs excluded by the run filter. The dependee graph
// is computed first, because a job something else depends on is always kept,
// whatever its tags. Removal repeats until a fixed point: dropping a job
// detaches it from its dependencies' dependee lists, which may in turn make
// those dependencies removable.
func (m *Manager) FilterByTags(filter map[string]bool) {
	for _, j := range m.pool {
		j.TransposeDeps()
	}
	for changed := true; changed; {
		changed = false
		for jid, j := range m.pool {
			if j.ShouldRun(filter) {
				continue
			}
			log.WithField("job", j.FQName).Debug("filtered out")
			j.DetachFromDeps()
			delete(m.pool, jid)
			m.total--
			pendingGauge.Dec()
			changed = true
		}
	}
}

// CreateSubset extracts the next ready-to-run Set from the pool, or nil when
// nothing is schedulable this round. A registered Set strategy replaces the
// default algorithm entirely; the before/after hooks run either way.
func (m *Manager) CreateSubset(tracker *resource.Tracker) *Set {
	if m.hooks.BeforeSet != nil {
		m.hooks.BeforeSet()
	}
	var s *Set
	if m.hooks.Set != nil {
		s = m.hooks.Set.EvalSet(m, m.total/m.concurrency)
	} else {
		s = m.defaultCreateSubset(tracker)
	}
	if m.hooks.AfterSet != nil {
		m.hooks.AfterSet()
	}
	if s != nil {
		setsCounter.WithLabelValues(s.Mode.String()).Inc()
	}
	return s
}

// nextJob pops the pooled WAITING job with the largest primary resource
// need. Scheduling big jobs first limits fragmentation of the tracker.
func (m *Manager) nextJob() *job.Job {
	var best *job.Job
	for _, j := range m.pool {
		if best == nil || j.NbNodes() > best.NbNodes() {
			best = j
		}
	}
	if best != nil {
		delete(m.pool, best.JID)
	}
	return best
}

func (m *Manager) defaultCreateSubset(tracker *resource.Tracker) *Set {
	var scheduled *Set
	var resched []*job.Job

	for {
		j := m.nextJob()
		if j == nil {
			break
		}
		// Jobs already picked or already published simply leave the
		// pool; they are tracked through their Set or the counters.
		if j.State != job.Waiting {
			continue
		}

		// A job with pending dependencies cannot run yet: walk its
		// chain and try to schedule the deepest incomplete dependency
		// instead.
		if !j.HasCompletedDeps() {
			resched = append(resched, j)
			dep := j.FirstIncompleteDep()
			for dep != nil && !dep.HasCompletedDeps() {
				dep = dep.FirstIncompleteDep()
			}
			if dep == nil {
				// Every incomplete dependency is already
				// running; try another candidate.
				continue
			}
			j = dep
		}

		// The dependency picked above may itself be running already.
		// Allocating for it again would leak tracker slots.
		if j.State != job.Waiting {
			continue
		}

		if j.HasFailedDep() {
			// This job can never run. Publish it now and keep
			// scanning for a schedulable candidate.
			m.PublishNotRunnable(j, job.NoStartMsg, job.ErrDep)
			continue
		}

		pick := false
		if m.hooks.Job != nil {
			pick = m.hooks.Job.EvalJob(j, scheduled)
		} else if id := tracker.Alloc(j.Resources); id > 0 {
			log.WithField("job", j.FQName).WithField("alloc", id).Debug("resources allocated")
			j.AllocID = id
			pick = true
		}

		if pick {
			j.Pick()
			// The default path builds single-job Sets: multiple
			// jobs in one Set would share allocation bookkeeping
			// across runners.
			scheduled = NewSet(Local)
			_ = scheduled.Add(j)
			break
		}

		// Allocation failure is not an error, it means "try again
		// next round".
		resched = append(resched, j)
		break
	}

	for _, j := range resched {
		m.pool[j.JID] = j
	}
	return scheduled
}

// MergeSubset processes a completed Set: each member's output metrics are
// extracted, its declared artifacts collected from disk, its result
// evaluated and published. Publication order within a Set is the order jobs
// were added to it.
func (m *Manager) MergeSubset(s *Set) {
	for _, j := range s.Jobs {
		if j.State != job.Executed {
			log.WithField("job", j.FQName).WithField("state", j.State.String()).
				Warn("job came back from the runner without a result")
			j.SaveFinalResult(-1, 0.0, job.DiscardedMsg, job.ErrOther)
			m.publish(j)
			continue
		}
		j.ExtractMetrics()
		j.SaveArtifacts()
		j.Evaluate()
		m.publish(j)
	}
}

// PublishNotRunnable records a synthetic "not started" result for a job that
// will never execute and publishes it immediately.
func (m *Manager) PublishNotRunnable(j *job.Job, out string, state job.State) {
	j.SaveFinalResult(-1, 0.0, out, state)
	m.publish(j)
}

// PruneAllJobs discards every job left in the pool, publishing each with a
// synthetic ERR_OTHER result. Used when the run is aborted.
func (m *Manager) PruneAllJobs() {
	for jid, j := range m.pool {
		delete(m.pool, jid)
		if j.State.IsTerminal() {
			continue
		}
		m.PublishNotRunnable(j, job.DiscardedMsg, job.ErrOther)
	}
}

func (m *Manager) publish(j *job.Job) {
	m.executed++
	m.byState[j.State]++
	publishedCounter.WithLabelValues(j.State.String()).Inc()
	pendingGauge.Dec()
	if err := m.publisher.Save(j); err != nil {
		log.WithError(err).WithField("job", j.FQName).Error("failed to publish result")
	}
	log.WithField("job", j.FQName).
		WithField("state", j.State.String()).
		WithField("time", j.Time).
		Info("job published")
}
