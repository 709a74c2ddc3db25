package runner

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/scheduler"
)

// pollInterval bounds how long a worker may take to notice a hard timeout or
// a cancellation while a child process runs.
const pollInterval = time.Second

// localExec runs every member of the Set as a child process in its own
// process group and records wall time, exit code and combined output.
func (r *Runner) localExec(ctx context.Context, s *scheduler.Set) error {
	for _, j := range s.Jobs {
		if err := r.runJob(ctx, j); err != nil {
			return err
		}
		if ctx.Err() != nil {
			// Cancelled mid-set: the remaining jobs are abandoned.
			return nil
		}
	}
	s.Completed = true
	return nil
}

func (r *Runner) runJob(ctx context.Context, j *job.Job) error {
	cmd := exec.Command("sh", "-c", j.InvocationCmd)
	// The whole process group must die on timeout, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start job %s", j.FQName)
	}
	pgid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			elapsed := time.Since(start).Seconds()
			j.SaveStatus(job.Executed)
			j.SaveRawRun(exitCode(err), elapsed, output.String(), false)
			return nil

		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			if j.HardTimeout > 0 && elapsed > float64(j.HardTimeout) {
				log.WithField("job", j.FQName).
					WithField("timeout", j.HardTimeout).
					Warn("hard timeout, terminating process group")
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
				<-done
				j.SaveStatus(job.Executed)
				j.SaveRawRun(-1, float64(j.HardTimeout), output.String(), true)
				return nil
			}

		case <-ctx.Done():
			// Run aborted: kill the group and abandon the result.
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-done
			return nil
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
