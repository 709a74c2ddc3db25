// Package runner executes ready Sets: a fixed pool of workers pulls Sets
// from a ready channel, runs them locally as subprocesses or hands them to a
// remote context, and pushes completed Sets to a completion channel.
package runner

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/scheduler"
)

// Runner is the worker pool. Start it once, feed it through Ready and
// consume Completed until Stop returns. Sets entering the pool must already
// hold their resource allocations; the workers never touch the tracker.
type Runner struct {
	cfg      *configuration.Config
	buildDir string
	workers  int

	ready     chan *scheduler.Set
	completed chan *scheduler.Set

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a runner with the given number of workers executing under
// buildDir.
func New(cfg *configuration.Config, buildDir string, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		cfg:       cfg,
		buildDir:  buildDir,
		workers:   workers,
		ready:     make(chan *scheduler.Set, workers*2),
		completed: make(chan *scheduler.Set, workers*2),
	}
}

// Ready is the channel sets are dispatched on. Closed by Stop.
func (r *Runner) Ready() chan<- *scheduler.Set { return r.ready }

// Completed delivers executed sets back to the scheduling loop.
func (r *Runner) Completed() <-chan *scheduler.Set { return r.completed }

// Start launches the worker pool. Cancelling ctx makes workers stop pulling
// new Sets and kill whatever they are currently running.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		worker := i
		r.group.Go(func() error {
			return r.loop(ctx, worker)
		})
	}
}

// Stop closes the ready channel and waits for every worker to drain or be
// cancelled.
func (r *Runner) Stop() error {
	close(r.ready)
	err := r.group.Wait()
	r.cancel()
	return err
}

func (r *Runner) loop(ctx context.Context, worker int) error {
	logger := log.WithField("worker", worker)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker cancelled")
			return nil
		case s, ok := <-r.ready:
			if !ok {
				return nil
			}
			logger.WithField("set", s.ID).WithField("mode", s.Mode.String()).
				Debug("set picked up")
			if err := r.executeSet(ctx, s); err != nil {
				// The Set's jobs are left unresolved; the merge
				// path records them as not run. Other Sets keep
				// going.
				logger.WithError(err).WithField("set", s.ID).
					Error("set execution failed")
			}
			select {
			case r.completed <- s:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Runner) executeSet(ctx context.Context, s *scheduler.Set) error {
	if s.Mode == scheduler.Local {
		return r.localExec(ctx, s)
	}
	return r.remoteExec(ctx, s)
}
