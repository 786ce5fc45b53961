// Package ingest submits videos dropped into a watch folder.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vidpipe/job"
)

// Submitter starts a pipeline for a source file.
type Submitter interface {
	Submit(ctx context.Context, sourcePath string) (*job.Job, error)
}

var DefaultExtensions = []string{".mp4", ".mov", ".mkv", ".avi", ".webm", ".m4v"}

// Watcher moves each new video from Dir into UploadDir and submits it.
// Moving the file out claims it, so a file is never submitted twice.
type Watcher struct {
	Dir        string
	UploadDir  string
	Extensions []string
	// PollInterval and MaxWait bound the wait for a file to stop growing.
	PollInterval time.Duration
	MaxWait      time.Duration

	submitter Submitter
	log       *zap.Logger
	watcher   *fsnotify.Watcher
	newName   func(ext string) string

	mu       sync.Mutex
	inFlight map[string]struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewWatcher(dir, uploadDir string, submitter Submitter, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		Dir:          dir,
		UploadDir:    uploadDir,
		Extensions:   DefaultExtensions,
		PollInterval: 500 * time.Millisecond,
		MaxWait:      30 * time.Second,
		submitter:    submitter,
		log:          log,
		newName:      func(ext string) string { return job.NewID() + ext },
		inFlight:     make(map[string]struct{}),
	}
}

// Start begins watching and claims any videos already in Dir.
func (w *Watcher) Start(ctx context.Context) error {
	if w.watcher != nil {
		return errors.New("watcher already running")
	}
	for _, dir := range []string{w.Dir, w.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.Dir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.loop()

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		w.log.Warn("could not scan watch directory", zap.String("dir", w.Dir), zap.Error(err))
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.claim(filepath.Join(w.Dir, entry.Name()))
		}
	}

	w.log.Info("watch folder started", zap.String("dir", w.Dir))
	return nil
}

func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	close(w.stopCh)
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.watcher = nil
	w.log.Info("watch folder stopped", zap.String("dir", w.Dir))
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			w.claim(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

// claim hands path to a goroutine unless it is already being handled.
func (w *Watcher) claim(path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	if _, busy := w.inFlight[path]; busy {
		w.mu.Unlock()
		return
	}
	w.inFlight[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, path)
			w.mu.Unlock()
		}()
		if err := w.ingest(path); err != nil {
			w.log.Error("ingest failed", zap.String("file", path), zap.Error(err))
		}
	}()
}

func (w *Watcher) ingest(path string) error {
	if err := w.waitForFileReady(path); err != nil {
		return err
	}

	dst := filepath.Join(w.UploadDir, w.newName(strings.ToLower(filepath.Ext(path))))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("move into upload dir: %w", err)
	}

	j, err := w.submitter.Submit(w.ctx, dst)
	if err != nil {
		return fmt.Errorf("submit %s: %w", dst, err)
	}
	w.log.Info("file ingested", zap.String("file", path), zap.String("job_id", j.ID))
	return nil
}

func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(w.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.Extensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// waitForFileReady returns once the file size is non-zero and unchanged across two polls.
func (w *Watcher) waitForFileReady(path string) error {
	timeout := time.After(w.MaxWait)
	var lastSize int64 = -1
	for {
		select {
		case <-timeout:
			return fmt.Errorf("file %s still growing after %s", path, w.MaxWait)
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-time.After(w.PollInterval):
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat: %w", err)
			}
			size := info.Size()
			if size == lastSize && size > 0 {
				return nil
			}
			lastSize = size
		}
	}
}
