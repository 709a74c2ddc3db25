package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcvs-project/pcvs/internal/job"
	"github.com/pcvs-project/pcvs/internal/pcvs/configuration"
	"github.com/pcvs-project/pcvs/internal/remote"
	"github.com/pcvs-project/pcvs/internal/scheduler"
)

func newLocalSet(t *testing.T, cmds ...string) *scheduler.Set {
	t.Helper()
	s := scheduler.NewSet(scheduler.Local)
	for i, cmd := range cmds {
		j := job.New(fmt.Sprintf("suite/unit/job%d", i))
		j.InvocationCmd = cmd
		j.Pick()
		require.NoError(t, s.Add(j))
	}
	return s
}

func TestLocalExecution(t *testing.T) {
	cfg := &configuration.Config{}
	r := New(cfg, t.TempDir(), 2)
	r.Start(context.Background())

	ok := newLocalSet(t, "echo hello")
	bad := newLocalSet(t, "echo oops >&2; exit 3")
	r.Ready() <- ok
	r.Ready() <- bad

	got := map[uint64]*scheduler.Set{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-r.Completed():
			got[s.ID] = s
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for completed sets")
		}
	}
	require.NoError(t, r.Stop())

	require.Contains(t, got, ok.ID)
	require.Contains(t, got, bad.ID)
	assert.True(t, got[ok.ID].Completed)

	j := ok.Jobs[0]
	assert.Equal(t, job.Executed, j.State)
	assert.Equal(t, 0, j.RC)
	assert.Contains(t, j.Output, "hello")

	j = bad.Jobs[0]
	assert.Equal(t, job.Executed, j.State)
	assert.Equal(t, 3, j.RC)
	assert.Contains(t, j.Output, "oops")
}

func TestLocalExecutionHardTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a real child process for over a second")
	}
	cfg := &configuration.Config{}
	r := New(cfg, t.TempDir(), 1)
	r.Start(context.Background())

	s := newLocalSet(t, "sleep 30")
	s.Jobs[0].HardTimeout = 1
	r.Ready() <- s

	select {
	case <-r.Completed():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for hard-timeout kill")
	}
	require.NoError(t, r.Stop())

	j := s.Jobs[0]
	assert.Equal(t, job.Executed, j.State)
	assert.Equal(t, -1, j.RC)
	assert.Equal(t, float64(j.HardTimeout), j.Time)
	j.Evaluate()
	assert.Equal(t, job.HardTimeout, j.State)
}

func TestCancellationKillsRunningJobs(t *testing.T) {
	cfg := &configuration.Config{}
	r := New(cfg, t.TempDir(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	s := newLocalSet(t, "sleep 30")
	r.Ready() <- s

	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, r.Stop())

	assert.False(t, s.Completed)
	assert.NotEqual(t, job.Executed, s.Jobs[0].State)
}

func TestRemoteExecutionThroughWrapper(t *testing.T) {
	buildDir := t.TempDir()
	s := scheduler.NewSet(scheduler.Alloc)
	j := job.New("suite/unit/mpi")
	j.InvocationCmd = "true"
	j.Resources = []int{2}
	j.Pick()
	require.NoError(t, s.Add(j))

	// The wrapper stands in for a resource manager: it ignores the job and
	// writes a ready-made result stream into the context directory.
	ctxDir := filepath.Join(buildDir, "ctx", fmt.Sprintf("%d", s.ID))
	wrapper := filepath.Join(buildDir, "wrapper.sh")
	script := fmt.Sprintf(`#!/bin/sh
echo "$PCVS_SET_DIM" > %[1]s/dim
printf 'PCVS-MAGIC:%[2]s:0:0.250000:0\n\n' > %[1]s/output.bin
touch %[1]s/.completed
`, ctxDir, j.JID)
	require.NoError(t, os.WriteFile(wrapper, []byte(script), 0o755))

	cfg := &configuration.Config{}
	cfg.Machine.JobManager.Allocate = configuration.WrapperConfig{
		Wrapper: wrapper,
		Program: "mpirun",
		Args:    "-np 2",
	}
	cfg.Validation.Parallel = 1

	r := New(cfg, buildDir, 1)
	r.Start(context.Background())
	r.Ready() <- s
	select {
	case <-r.Completed():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for remote set")
	}
	require.NoError(t, r.Stop())

	assert.True(t, s.Completed)
	assert.Equal(t, job.Executed, j.State)
	assert.Equal(t, 0, j.RC)
	assert.Equal(t, 0.25, j.Time)

	// The wrapper saw the set dimension in its environment.
	dim, err := os.ReadFile(filepath.Join(ctxDir, "dim"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(dim))

	// The input descriptors were serialized before the wrapper ran.
	rctx, err := remote.NewContext(ctxDir)
	require.NoError(t, err)
	assert.True(t, rctx.HasInput())
}

func TestRemoteExecutionWithoutCompletionMarker(t *testing.T) {
	buildDir := t.TempDir()
	s := scheduler.NewSet(scheduler.Batch)
	j := job.New("suite/unit/batch")
	j.Pick()
	require.NoError(t, s.Add(j))

	// Output records alone are not trusted; only the sentinel says the
	// stream is complete.
	ctxDir := filepath.Join(buildDir, "ctx", fmt.Sprintf("%d", s.ID))
	wrapper := filepath.Join(buildDir, "wrapper.sh")
	script := fmt.Sprintf(`#!/bin/sh
printf 'PCVS-MAGIC:%s:0:0.100000:0\n\n' > %s/output.bin
`, j.JID, ctxDir)
	require.NoError(t, os.WriteFile(wrapper, []byte(script), 0o755))

	cfg := &configuration.Config{}
	cfg.Machine.JobManager.Batch = configuration.WrapperConfig{Wrapper: wrapper}
	cfg.Validation.Parallel = 1

	r := New(cfg, buildDir, 1)
	r.Start(context.Background())
	r.Ready() <- s
	select {
	case got := <-r.Completed():
		assert.False(t, got.Completed)
		assert.NotEqual(t, job.Executed, j.State)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for incomplete set")
	}
	require.NoError(t, r.Stop())
}

func TestRemoteExecutionFailedWrapper(t *testing.T) {
	s := scheduler.NewSet(scheduler.Remote)
	j := job.New("suite/unit/fail")
	j.Pick()
	require.NoError(t, s.Add(j))

	cfg := &configuration.Config{}
	cfg.Machine.JobManager.Remote = configuration.WrapperConfig{Wrapper: "/nonexistent/wrapper"}

	r := New(cfg, t.TempDir(), 1)
	r.Start(context.Background())
	r.Ready() <- s
	select {
	case got := <-r.Completed():
		// The set comes back unresolved so the scheduling loop can
		// discard its jobs.
		assert.False(t, got.Completed)
		assert.NotEqual(t, job.Executed, j.State)
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for failed set")
	}
	require.NoError(t, r.Stop())
}

func TestRunRemoteContext(t *testing.T) {
	ctxDir := t.TempDir()
	a := job.New("suite/unit/a")
	a.InvocationCmd = "echo from-a"
	b := job.New("suite/unit/b")
	b.InvocationCmd = "exit 7"

	seed, err := remote.NewContext(ctxDir)
	require.NoError(t, err)
	require.NoError(t, seed.SaveInput([]*job.Job{a, b}))

	require.NoError(t, RunRemoteContext(context.Background(), ctxDir, 2))

	reader, err := remote.NewContext(ctxDir)
	require.NoError(t, err)
	assert.True(t, reader.Completed())

	restoredA := job.New("suite/unit/a")
	restoredB := job.New("suite/unit/b")
	byID := map[string]*job.Job{restoredA.JID: restoredA, restoredB.JID: restoredB}
	require.NoError(t, reader.LoadResults(func(jid string) *job.Job { return byID[jid] }))

	assert.Equal(t, 0, restoredA.RC)
	assert.Contains(t, restoredA.Output, "from-a")
	assert.Equal(t, 7, restoredB.RC)
}

func TestCollectResultWithoutExecution(t *testing.T) {
	ctxDir := t.TempDir()
	rctx, err := remote.NewContext(ctxDir)
	require.NoError(t, err)

	// A worker may hand a set back with members it never ran, e.g. after
	// a spawn failure. The record written for such a job must read as a
	// failure, not as a clean rc=0 run.
	j := job.New("suite/unit/never-ran")
	require.NoError(t, collectResult(rctx, j))
	require.NoError(t, rctx.MarkCompleted())

	restored := job.New("suite/unit/never-ran")
	reader, err := remote.NewContext(ctxDir)
	require.NoError(t, err)
	require.NoError(t, reader.LoadResults(func(string) *job.Job { return restored }))

	assert.Equal(t, -1, restored.RC)
	restored.Evaluate()
	assert.Equal(t, job.Failure, restored.State)
}

func TestRunRemoteContextWithoutInput(t *testing.T) {
	err := RunRemoteContext(context.Background(), t.TempDir(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input")
}
