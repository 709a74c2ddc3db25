// Package orchestrator ties the scheduling loop to the execution pool: it
// resolves and filters the pool, then repeatedly extracts ready Sets,
// dispatches them and merges completed ones until every job is published.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/results"
	"github.com/pcvs-project/pcvs/internal/runner"
	"github.com/pcvs-project/pcvs/internal/scheduler"
	"github.com/pcvs-project/pcvs/internal/scheduler/resource"
)

// completionPoll is how long the scheduling loop waits for a completion when
// nothing is currently schedulable.
const completionPoll = 100 * time.Millisecond

// ErrJobsFailed is returned by Run when fail-on-failure semantics are
// requested and at least one job ended in a bad state.
var ErrJobsFailed = errors.New("at least one job failed")

// Orchestrator drives one run. Scheduling stays on the caller's goroutine:
// the manager and the tracker are never touched anywhere else. Execution
// happens in the runner's worker pool, which only sees immutable,
// already-allocated Sets.
type Orchestrator struct {
	RunID uuid.UUID

	cfg       *configuration.Config
	manager   *scheduler.Manager
	tracker   *resource.Tracker
	runner    *runner.Runner
	publisher results.Publisher

	// Sets dispatched but not merged back yet. Jobs inside them are no
	// longer in the manager's pool, so an aborted run must merge these
	// explicitly to account for every job.
	inflight map[uint64]*scheduler.Set
}

// New assembles an orchestrator for the given profile, publishing results
// through publisher.
func New(cfg *configuration.Config, buildDir string, publisher results.Publisher) *Orchestrator {
	cfg.Defaulted()
	return &Orchestrator{
		RunID:     uuid.New(),
		cfg:       cfg,
		manager:   scheduler.NewManager(publisher, cfg.Machine.ConcurrentRun),
		tracker:   resource.New(cfg.Machine.Dims),
		runner:    runner.New(cfg, buildDir, cfg.Machine.ConcurrentRun),
		publisher: publisher,
		inflight:  map[uint64]*scheduler.Set{},
	}
}

// Manager exposes the job pool, e.g. to register scheduling hooks or feed
// jobs.
func (o *Orchestrator) Manager() *scheduler.Manager { return o.manager }

// AddJob feeds one job into the pool. Must happen before Run.
func (o *Orchestrator) AddJob(j *job.Job) { o.manager.AddJob(j) }

// Run executes the whole pool to completion. Structural dependency errors
// abort before anything executes. Cancelling ctx kills in-flight jobs and
// publishes everything left as not run.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.manager.ResolveDependencies(); err != nil {
		return errors.Wrap(err, "dependency resolution failed")
	}
	o.manager.FilterByTags(o.cfg.Validation.RunFilter)

	log.WithField("run", o.RunID).
		WithField("jobs", o.manager.TotalCount()).
		WithField("workers", o.cfg.Machine.ConcurrentRun).
		Info("scheduling started")

	o.runner.Start(ctx)
	o.loop(ctx)
	if err := o.runner.Stop(); err != nil {
		log.WithError(err).Warn("runner stopped with error")
	}

	if ctx.Err() != nil {
		for _, s := range o.inflight {
			o.merge(s)
		}
		o.manager.PruneAllJobs()
	}
	if err := o.publisher.Close(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "run aborted")
	}

	o.logSummary()
	if o.cfg.Validation.FailOnFailure && o.failedCount() > 0 {
		return ErrJobsFailed
	}
	return nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	var pending *scheduler.Set
	for o.manager.LeftCount() > 0 && ctx.Err() == nil {
		if pending == nil {
			pending = o.manager.CreateSubset(o.tracker)
		}
		if pending != nil {
			select {
			case o.runner.Ready() <- pending:
				o.inflight[pending.ID] = pending
				pending = nil
			case s := <-o.runner.Completed():
				o.merge(s)
			case <-ctx.Done():
			}
			continue
		}
		select {
		case s := <-o.runner.Completed():
			o.merge(s)
		case <-time.After(completionPoll):
		case <-ctx.Done():
		}
	}
	if pending != nil {
		// Extracted but never dispatched; account for it like any
		// other in-flight set.
		o.inflight[pending.ID] = pending
	}
}

// merge releases the resources held by a completed Set, then hands it back
// to the manager for evaluation and publication. free happens first so the
// next CreateSubset sees the slots.
func (o *Orchestrator) merge(s *scheduler.Set) {
	delete(o.inflight, s.ID)
	for _, j := range s.Jobs {
		if j.AllocID != 0 {
			o.tracker.Free(j.AllocID)
			j.AllocID = 0
		}
	}
	o.manager.MergeSubset(s)
}

func (o *Orchestrator) failedCount() int {
	count := 0
	for _, s := range job.TerminalStates() {
		if s.IsBad() {
			count += o.manager.CountByState(s)
		}
	}
	return count
}

func (o *Orchestrator) logSummary() {
	entry := log.WithField("run", o.RunID).WithField("total", o.manager.ExecutedCount())
	for _, s := range job.TerminalStates() {
		if n := o.manager.CountByState(s); n > 0 {
			entry = entry.WithField(s.String(), n)
		}
	}
	entry.Info("scheduling finished")
}
