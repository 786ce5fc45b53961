package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vidpipe/job"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, sourcePath string) (*job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sources = append(f.sources, sourcePath)
	return &job.Job{ID: "job-" + filepath.Base(sourcePath), SourcePath: sourcePath}, nil
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sources...)
}

func newTestWatcher(t *testing.T, sub Submitter) (*Watcher, string, string) {
	t.Helper()
	root := t.TempDir()
	watchDir := filepath.Join(root, "incoming")
	uploadDir := filepath.Join(root, "uploads")

	w := NewWatcher(watchDir, uploadDir, sub, zap.NewNop())
	w.PollInterval = 10 * time.Millisecond
	w.MaxWait = 2 * time.Second
	n := 0
	var mu sync.Mutex
	w.newName = func(ext string) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "claimed" + string(rune('0'+n)) + ext
	}
	return w, watchDir, uploadDir
}

func TestWatcherSubmitsNewVideo(t *testing.T) {
	sub := &fakeSubmitter{}
	w, watchDir, uploadDir := newTestWatcher(t, sub)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "Holiday.MOV"), []byte("video bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "notes.txt"), []byte("ignore me"), 0o644))

	require.Eventually(t, func() bool { return len(sub.submitted()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, filepath.Join(uploadDir, "claimed1.mov"), sub.submitted()[0])

	_, err := os.Stat(filepath.Join(watchDir, "Holiday.MOV"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(watchDir, "notes.txt"))
	assert.NoError(t, err)
}

func TestWatcherClaimsExistingFiles(t *testing.T) {
	sub := &fakeSubmitter{}
	w, watchDir, _ := newTestWatcher(t, sub)
	require.NoError(t, os.MkdirAll(watchDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "old.mp4"), []byte("video"), 0o644))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return len(sub.submitted()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWatcherAccepts(t *testing.T) {
	w := NewWatcher("in", "up", &fakeSubmitter{}, nil)
	assert.True(t, w.accepts("/in/a.mp4"))
	assert.True(t, w.accepts("/in/B.MKV"))
	assert.False(t, w.accepts("/in/.partial.mp4"))
	assert.False(t, w.accepts("/in/a.srt"))

	w.Extensions = nil
	assert.True(t, w.accepts("/in/a.srt"))
}

func TestWaitForFileReadyEmptyFileTimesOut(t *testing.T) {
	w, watchDir, _ := newTestWatcher(t, &fakeSubmitter{})
	w.MaxWait = 60 * time.Millisecond
	w.ctx = context.Background()
	require.NoError(t, os.MkdirAll(watchDir, 0o755))
	path := filepath.Join(watchDir, "empty.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	assert.ErrorContains(t, w.waitForFileReady(path), "still growing")
}

func TestWatcherSubmitErrorIsLogged(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("store down")}
	w, watchDir, uploadDir := newTestWatcher(t, sub)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "a.mp4"), []byte("video"), 0o644))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(uploadDir, "claimed1.mp4"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.Empty(t, sub.submitted())
}
