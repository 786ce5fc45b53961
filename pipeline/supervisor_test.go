package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vidpipe/job"
	"vidpipe/runner"
)

func blockingRunner(kind runner.Kind, started chan<- string) *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, t runner.Task) error {
		if t.Kind == kind {
			if started != nil {
				started <- t.OutputPath
			}
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
}

func newSupervisor(store job.Store, r runner.Runner, jobTimeout time.Duration) *Supervisor {
	orch := NewOrchestrator(store, r, DefaultStages(outDir))
	return NewSupervisor(store, orch, jobTimeout, zap.NewNop())
}

func waitForStatus(t *testing.T, store job.Store, id string, want job.Status) *job.Job {
	t.Helper()
	var last *job.Job
	require.Eventually(t, func() bool {
		j, err := store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func TestSupervisorSubmitRunsInBackground(t *testing.T) {
	store := job.NewMemoryStore()
	sup := newSupervisor(store, &fakeRunner{}, time.Minute)
	defer sup.Shutdown(context.Background())

	j, err := sup.Submit(context.Background(), "/srv/uploads/clip.mov")
	require.NoError(t, err)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, job.StatusPending, j.Status)

	final := waitForStatus(t, store, j.ID, job.StatusCompleted)
	assert.Len(t, final.Artifacts, 4)
	assert.Eventually(t, func() bool { return len(sup.Running()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestSupervisorSubmitRejectsEmptySource(t *testing.T) {
	sup := newSupervisor(job.NewMemoryStore(), &fakeRunner{}, 0)
	_, err := sup.Submit(context.Background(), "")
	assert.ErrorIs(t, err, job.ErrInvalidArgument)
}

func TestSupervisorCancel(t *testing.T) {
	store := job.NewMemoryStore()
	started := make(chan string, 1)
	sup := newSupervisor(store, blockingRunner(runner.KindTranscode, started), time.Minute)
	defer sup.Shutdown(context.Background())

	j, err := sup.Submit(context.Background(), "/srv/uploads/clip.mov")
	require.NoError(t, err)
	<-started
	assert.Equal(t, []string{j.ID}, sup.Running())

	require.NoError(t, sup.Cancel(j.ID))
	final := waitForStatus(t, store, j.ID, job.StatusError)
	assert.Empty(t, final.Artifacts)

	assert.Eventually(t, func() bool { return len(sup.Running()) == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sup.Cancel(j.ID), ErrNotRunning)
}

func TestSupervisorJobTimeout(t *testing.T) {
	store := job.NewMemoryStore()
	sup := newSupervisor(store, blockingRunner(runner.KindSegments, nil), 50*time.Millisecond)
	defer sup.Shutdown(context.Background())

	j, err := sup.Submit(context.Background(), "/srv/uploads/clip.mov")
	require.NoError(t, err)

	final := waitForStatus(t, store, j.ID, job.StatusError)
	assert.True(t, final.Has(job.StageTranscode))
	assert.True(t, final.Has(job.StageSubtitles))
	assert.False(t, final.Has(job.StageSegments))
}

func TestSupervisorStartTwice(t *testing.T) {
	store := job.NewMemoryStore()
	started := make(chan string, 1)
	sup := newSupervisor(store, blockingRunner(runner.KindTranscode, started), 0)
	defer sup.Shutdown(context.Background())

	j, err := sup.Submit(context.Background(), "/srv/uploads/clip.mov")
	require.NoError(t, err)
	<-started
	assert.ErrorIs(t, sup.Start(j.ID), ErrAlreadyRunning)
}

func TestSupervisorShutdownThenRecover(t *testing.T) {
	store := job.NewMemoryStore()
	ctx := context.Background()

	started := make(chan string, 1)
	first := newSupervisor(store, blockingRunner(runner.KindSubtitles, started), 0)
	j, err := first.Submit(ctx, "/srv/uploads/clip.mov")
	require.NoError(t, err)
	<-started

	require.NoError(t, first.Shutdown(ctx))
	assert.ErrorIs(t, first.Start(j.ID), ErrClosed)

	interrupted, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, interrupted.Status)
	assert.True(t, interrupted.Has(job.StageTranscode))

	// A queued job that never started is picked up too.
	queued, err := store.Create(ctx, "/srv/uploads/other.mov")
	require.NoError(t, err)

	r := &fakeRunner{}
	second := newSupervisor(store, r, 0)
	defer second.Shutdown(ctx)

	n, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waitForStatus(t, store, j.ID, job.StatusCompleted)
	waitForStatus(t, store, queued.ID, job.StatusCompleted)
	// Transcode was recorded before the shutdown, so only the queued job transcodes again.
	transcodes := 0
	for _, k := range r.kinds() {
		if k == runner.KindTranscode {
			transcodes++
		}
	}
	assert.Equal(t, 1, transcodes)
}

func TestSupervisorShutdownTimeout(t *testing.T) {
	store := job.NewMemoryStore()
	release := make(chan struct{})
	started := make(chan struct{})
	r := &fakeRunner{run: func(ctx context.Context, t runner.Task) error {
		close(started)
		<-release
		return nil
	}}
	sup := newSupervisor(store, r, 0)
	_, err := sup.Submit(context.Background(), "/srv/uploads/clip.mov")
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sup.Shutdown(ctx), context.DeadlineExceeded)
	close(release)
}
