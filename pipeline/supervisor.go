package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vidpipe/job"
)

var (
	ErrNotRunning     = errors.New("job is not running")
	ErrAlreadyRunning = errors.New("job is already running")
	ErrClosed         = errors.New("supervisor is shut down")
	ErrCanceled       = errors.New("job canceled")
)

// Supervisor starts each job's pipeline in the background and keeps a cancel
// handle for it. At most one run per job is in flight.
type Supervisor struct {
	store      job.Store
	orch       *Orchestrator
	jobTimeout time.Duration
	log        *zap.Logger

	base context.Context
	stop context.CancelCauseFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelCauseFunc
}

func NewSupervisor(store job.Store, orch *Orchestrator, jobTimeout time.Duration, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Supervisor{
		store:      store,
		orch:       orch,
		jobTimeout: jobTimeout,
		log:        log,
		base:       base,
		stop:       stop,
		running:    make(map[string]context.CancelCauseFunc),
	}
}

// Submit creates the pending record and starts its pipeline without waiting for it.
func (s *Supervisor) Submit(ctx context.Context, sourcePath string) (*job.Job, error) {
	j, err := s.store.Create(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.Start(j.ID); err != nil {
		return j, err
	}
	s.log.Info("job submitted", zap.String("job_id", j.ID), zap.String("source", sourcePath))
	return j, nil
}

// Start launches the pipeline for an existing job.
func (s *Supervisor) Start(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.running[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, jobID)
	}

	ctx, cancel := context.WithCancelCause(s.base)
	s.running[jobID] = cancel
	s.wg.Add(1)
	go s.run(ctx, cancel, jobID)
	return nil
}

func (s *Supervisor) run(ctx context.Context, cancel context.CancelCauseFunc, jobID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
		cancel(nil)
	}()

	runCtx := ctx
	if s.jobTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(ctx, s.jobTimeout, fmt.Errorf("job exceeded %s", s.jobTimeout))
		defer stop()
	}

	if err := s.orch.Run(runCtx, jobID); err != nil {
		s.log.Warn("job finished with error", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Cancel stops a running job. It ends in error.
func (s *Supervisor) Cancel(jobID string) error {
	s.mu.Lock()
	cancel, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, jobID)
	}
	cancel(ErrCanceled)
	s.log.Info("cancellation signal sent", zap.String("job_id", jobID))
	return nil
}

// Running returns the ids of jobs with a pipeline in flight.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recover restarts jobs a previous process left pending or processing.
func (s *Supervisor) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.List(ctx, job.StatusPending, job.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished jobs: %w", err)
	}
	started := 0
	for _, j := range jobs {
		if err := s.Start(j.ID); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			return started, err
		}
		s.log.Info("job recovered", zap.String("job_id", j.ID), zap.String("status", string(j.Status)))
		started++
	}
	return started, nil
}

// Shutdown stops accepting work, interrupts running jobs, and waits for them
// until ctx expires. Interrupted jobs keep their status for Recover.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop(ErrShutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
