package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/remote"
	"github.com/pcvs-project/pcvs/internal/scheduler"
)

// contextDirName is the subdirectory of the build tree holding one remote
// context per Set id.
const contextDirName = "ctx"

// remoteExec hands the Set to the machine's job-manager wrapper: jobs are
// serialized into a fresh remote context, the wrapper is invoked blocking
// with the resource-manager parameters in its environment, and results are
// read back from the context's output stream.
func (r *Runner) remoteExec(ctx context.Context, s *scheduler.Set) error {
	var wrapperCfg configuration.WrapperConfig
	switch s.Mode {
	case scheduler.Alloc:
		wrapperCfg = r.cfg.Machine.JobManager.Allocate
	case scheduler.Remote:
		wrapperCfg = r.cfg.Machine.JobManager.Remote
	case scheduler.Batch:
		wrapperCfg = r.cfg.Machine.JobManager.Batch
	default:
		return errors.Errorf("set %d: mode %s is not a remote mode", s.ID, s.Mode)
	}

	ctxDir := filepath.Join(r.buildDir, contextDirName, fmt.Sprintf("%d", s.ID))
	rctx, err := remote.NewContext(ctxDir)
	if err != nil {
		return err
	}
	if err := rctx.SaveInput(s.Jobs); err != nil {
		return err
	}

	cmdline := fmt.Sprintf("%s pcvs remote-run -c %s -p %d",
		wrapperCfg.Wrapper, ctxDir, r.cfg.Validation.Parallel)

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Env = append(os.Environ(),
		"PCVS_JOB_MANAGER_PROGRAM="+wrapperCfg.Program,
		"PCVS_JOB_MANAGER_ARGS="+wrapperCfg.Args,
		fmt.Sprintf("PCVS_SET_DIM=%d", s.Dim()),
		"PCVS_SET_CMD="+wrapperCfg.Program,
		"PCVS_SET_CMD_ARGS="+wrapperCfg.Args,
	)

	stderr, err := cmd.CombinedOutput()
	if err != nil {
		return errors.WithStack(&scheduler.ErrLaunch{Cmd: cmdline, Message: err.Error()})
	}
	if len(stderr) > 0 {
		log.WithField("set", s.ID).Warnf("wrapper output: %s", stderr)
	}

	// The sentinel is the only signal that every record was written; on
	// shared filesystems it may land shortly after the wrapper returns.
	err = retry.Do(
		func() error {
			if !rctx.Completed() {
				return errors.Errorf("set %d has not completed", s.ID)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}

	if err := rctx.LoadResults(s.Find); err != nil {
		return err
	}
	s.Completed = true
	return nil
}
