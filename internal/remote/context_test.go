package remote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcvs-project/pcvs/internal/job"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := NewContext(t.TempDir())
	require.NoError(t, err)
	return ctx
}

func TestInputRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	a := job.New("l/s/a")
	a.InvocationCmd = "echo a"
	b := job.New("l/s/b")
	b.InvocationCmd = "echo b"

	assert.False(t, ctx.HasInput())
	require.NoError(t, ctx.SaveInput([]*job.Job{a, b}))
	assert.True(t, ctx.HasInput())

	fresh, err := NewContext(ctx.Dir())
	require.NoError(t, err)
	jobs, err := fresh.LoadInput()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 2, fresh.Count())
	assert.Equal(t, a.JID, jobs[0].JID)
	assert.Equal(t, "echo a", jobs[0].InvocationCmd)
	assert.Equal(t, b.JID, jobs[1].JID)
	assert.Equal(t, "echo b", jobs[1].InvocationCmd)
}

func TestResultRoundTrip(t *testing.T) {
	ctx := newTestContext(t)
	a := job.New("l/s/a")
	a.SaveRawRun(0, 1.25, "hello\nworld", false)
	b := job.New("l/s/b")
	b.SaveRawRun(3, 0.5, "", false)

	assert.False(t, ctx.HasOutput())
	require.NoError(t, ctx.SaveResult(a))
	assert.True(t, ctx.HasOutput())
	require.NoError(t, ctx.SaveResult(b))
	require.NoError(t, ctx.MarkCompleted())

	restoredA := job.New("l/s/a")
	restoredB := job.New("l/s/b")
	byID := map[string]*job.Job{restoredA.JID: restoredA, restoredB.JID: restoredB}

	reader, err := NewContext(ctx.Dir())
	require.NoError(t, err)
	require.NoError(t, reader.LoadResults(func(jid string) *job.Job { return byID[jid] }))

	assert.Equal(t, 0, restoredA.RC)
	assert.Equal(t, 1.25, restoredA.Time)
	assert.Equal(t, "hello\nworld", restoredA.Output)
	assert.Equal(t, job.Executed, restoredA.State)

	assert.Equal(t, 3, restoredB.RC)
	assert.Equal(t, 0.5, restoredB.Time)
	assert.Empty(t, restoredB.Output)
	assert.Equal(t, job.Executed, restoredB.State)
}

func TestLoadResultsRejectsCorruptMagic(t *testing.T) {
	ctx := newTestContext(t)
	path := filepath.Join(ctx.Dir(), "output.bin")
	require.NoError(t, os.WriteFile(path, []byte("GARBAGE:x:0:0.0:0\n\n"), 0o644))

	err := ctx.LoadResults(func(string) *job.Job { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestLoadResultsRejectsTruncatedPayload(t *testing.T) {
	ctx := newTestContext(t)
	a := job.New("l/s/a")
	a.SaveRawRun(0, 1.0, "some output", false)
	require.NoError(t, ctx.SaveResult(a))
	require.NoError(t, ctx.MarkCompleted())

	// Chop the payload line.
	path := filepath.Join(ctx.Dir(), "output.bin")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-5], 0o644))

	restored := job.New("l/s/a")
	err = ctx.LoadResults(func(string) *job.Job { return restored })
	require.Error(t, err)
}

func TestLoadResultsUnknownJob(t *testing.T) {
	ctx := newTestContext(t)
	a := job.New("l/s/a")
	require.NoError(t, ctx.SaveResult(a))
	require.NoError(t, ctx.MarkCompleted())

	err := ctx.LoadResults(func(string) *job.Job { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching job")
}

func TestCompletionMarker(t *testing.T) {
	ctx := newTestContext(t)
	assert.False(t, ctx.Completed())

	require.NoError(t, ctx.MarkCompleted())
	assert.True(t, ctx.Completed())

	require.NoError(t, ctx.MarkNotCompleted())
	assert.False(t, ctx.Completed())

	// Removing an absent marker is fine.
	require.NoError(t, ctx.MarkNotCompleted())
}

func TestOutputIsAppendOnly(t *testing.T) {
	ctx := newTestContext(t)
	a := job.New("l/s/a")
	a.SaveRawRun(0, 1.0, "first", false)
	require.NoError(t, ctx.SaveResult(a))
	require.NoError(t, ctx.MarkCompleted())

	// A second writer appends, never rewrites.
	later, err := NewContext(ctx.Dir())
	require.NoError(t, err)
	b := job.New("l/s/b")
	b.SaveRawRun(0, 2.0, "second", false)
	require.NoError(t, later.SaveResult(b))
	require.NoError(t, later.MarkCompleted())

	restoredA := job.New("l/s/a")
	restoredB := job.New("l/s/b")
	byID := map[string]*job.Job{restoredA.JID: restoredA, restoredB.JID: restoredB}
	reader, err := NewContext(ctx.Dir())
	require.NoError(t, err)
	require.NoError(t, reader.LoadResults(func(jid string) *job.Job { return byID[jid] }))
	assert.Equal(t, "first", restoredA.Output)
	assert.Equal(t, "second", restoredB.Output)
}
