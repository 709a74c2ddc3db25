package runner

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/remote"
	"github.com/pcvs-project/pcvs/internal/scheduler"
)

// RunRemoteContext is the remote-run entry point, executed inside the
// allocation the wrapper obtained. It loads the jobs serialized into the
// context directory, runs them locally with the requested parallelism,
// streams each result into the context's output file through a single
// collector goroutine, and finally drops the completion marker.
//
// The marker is removed first: a caller may only trust the output stream
// once the marker reappears.
func RunRemoteContext(ctx context.Context, ctxDir string, parallel int) error {
	rctx, err := remote.NewContext(ctxDir)
	if err != nil {
		return err
	}
	if !rctx.HasInput() {
		return errors.Errorf("no input available under %s", ctxDir)
	}
	if err := rctx.MarkNotCompleted(); err != nil {
		return err
	}
	jobs, err := rctx.LoadInput()
	if err != nil {
		return err
	}
	log.WithField("jobs", len(jobs)).WithField("parallel", parallel).
		Info("remote context loaded")

	poolCtx, poolCancel := context.WithCancel(ctx)
	defer poolCancel()
	pool := New(&configuration.Config{}, ctxDir, parallel)
	pool.Start(poolCtx)

	group, ctx := errgroup.WithContext(ctx)

	// Collector: the output file has a single writer, whatever the
	// parallelism.
	group.Go(func() error {
		for collected := 0; collected < rctx.Count(); {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case s := <-pool.Completed():
				for _, j := range s.Jobs {
					if err := collectResult(rctx, j); err != nil {
						return err
					}
					collected++
				}
			}
		}
		return nil
	})

	// Feed every job as its own local Set.
	group.Go(func() error {
		for _, j := range jobs {
			s := scheduler.NewSet(scheduler.Local)
			if err := s.Add(j); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case pool.Ready() <- s:
			}
		}
		return nil
	})

	err = group.Wait()
	if err != nil {
		// Unblock any worker still trying to hand a result over.
		poolCancel()
	}
	if stopErr := pool.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}
	return rctx.MarkCompleted()
}

// collectResult writes one job's outcome into the context. A job coming
// back without having executed gets a synthetic failure record, so the
// caller never mistakes it for a clean run.
func collectResult(rctx *remote.Context, j *job.Job) error {
	if j.State != job.Executed {
		j.SaveRawRun(-1, 0.0, j.Output, false)
	}
	return rctx.SaveResult(j)
}
