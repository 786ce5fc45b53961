// Package pipeline drives a job through its stages and supervises running jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vidpipe/events"
	"vidpipe/job"
	"vidpipe/runner"
)

// ErrShutdown is the cancellation cause used when the process is stopping.
// A run interrupted this way stays in processing so Recover can resume it.
var ErrShutdown = errors.New("pipeline shutting down")

const defaultPublishTimeout = 3 * time.Second

type Orchestrator struct {
	store          job.Store
	runner         runner.Runner
	stages         []StageDefinition
	publisher      events.Publisher
	stageTimeout   time.Duration
	publishTimeout time.Duration
	parallel       bool
	log            *zap.Logger
}

type Option func(*Orchestrator)

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStageTimeout bounds every single task invocation.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithPublishTimeout bounds each status event delivery.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.publishTimeout = d }
}

// WithParallelStages runs every stage after the first one concurrently.
func WithParallelStages(enabled bool) Option {
	return func(o *Orchestrator) { o.parallel = enabled }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func NewOrchestrator(store job.Store, r runner.Runner, stages []StageDefinition, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		runner:         r,
		stages:         stages,
		publisher:      events.Nop{},
		publishTimeout: defaultPublishTimeout,
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// execution is the state of one Run. mu serializes record writes in parallel mode.
type execution struct {
	o   *Orchestrator
	log *zap.Logger

	mu  sync.Mutex
	job *job.Job
}

// Run drives jobID to completed or error. Stages whose artifact is already
// recorded are skipped, which makes Run safe to call again after a restart.
// The returned error carries the failing stage's cause; the record only gets status=error.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	j, err := o.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", job.ErrInvalidTransition, j.ID, j.Status)
	}

	e := &execution{o: o, job: j, log: o.log.With(zap.String("job_id", j.ID))}
	if err := e.setStatus(ctx, job.StatusProcessing); err != nil {
		return err
	}
	e.log.Info("pipeline started", zap.String("source", j.SourcePath), zap.Bool("parallel", o.parallel))

	if o.parallel {
		err = e.runParallel(ctx)
	} else {
		err = e.runSequential(ctx)
	}
	if err != nil {
		return e.fail(ctx, err)
	}

	if err := e.setStatus(ctx, job.StatusCompleted); err != nil {
		return err
	}
	e.log.Info("pipeline completed")
	return nil
}

func (e *execution) runSequential(ctx context.Context) error {
	for _, def := range e.o.stages {
		if err := e.runStage(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// runParallel runs the first stage alone, then the rest together.
// The first failure cancels the siblings.
func (e *execution) runParallel(ctx context.Context) error {
	if len(e.o.stages) == 0 {
		return nil
	}
	if err := e.runStage(ctx, e.o.stages[0]); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, def := range e.o.stages[1:] {
		g.Go(func() error {
			return e.runStage(gctx, def)
		})
	}
	return g.Wait()
}

func (e *execution) runStage(ctx context.Context, def StageDefinition) error {
	e.mu.Lock()
	done := e.job.Has(def.Stage)
	source := e.job.SourcePath
	e.mu.Unlock()

	log := e.log.With(zap.String("stage", string(def.Stage)))
	if done {
		log.Info("stage already recorded, skipping")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stageCtx := ctx
	if e.o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, e.o.stageTimeout)
		defer cancel()
	}

	output := def.OutputPath(e.job.ID)
	start := time.Now()
	log.Info("stage started", zap.String("output", output))

	err := e.o.runner.Run(stageCtx, runner.Task{Kind: def.Kind, InputPath: source, OutputPath: output})
	if err != nil {
		log.Error("stage failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return err
	}
	log.Info("stage succeeded", zap.Duration("elapsed", time.Since(start)))

	return e.record(ctx, def.Stage, output)
}

// record persists the artifact before the caller moves on.
func (e *execution) record(ctx context.Context, stage job.Stage, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.o.store.Update(context.WithoutCancel(ctx), e.job.ID, job.SetArtifact(stage, path)); err != nil {
		return fmt.Errorf("persist %s artifact: %w", stage, err)
	}
	e.job.Artifacts[stage] = path
	return nil
}

// setStatus persists the transition even if ctx is already cancelled.
// The event is published after the lock is released so a slow broker cannot
// hold up artifact writes of sibling stages.
func (e *execution) setStatus(ctx context.Context, to job.Status) error {
	e.mu.Lock()
	from := e.job.Status
	if from == to {
		e.mu.Unlock()
		return nil
	}
	writeCtx := context.WithoutCancel(ctx)
	if err := e.o.store.Update(writeCtx, e.job.ID, job.SetStatus(to)); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("persist status %s: %w", to, err)
	}
	e.job.Status = to
	event := events.NewJobStatusChanged(e.job, from)
	e.mu.Unlock()

	e.publish(writeCtx, event)
	return nil
}

func (e *execution) publish(ctx context.Context, event events.JobStatusChanged) {
	if e.o.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.o.publishTimeout)
		defer cancel()
	}
	if err := e.o.publisher.Publish(ctx, event); err != nil {
		e.log.Warn("status event not published", zap.String("status", string(event.To)), zap.Error(err))
	}
}

func (e *execution) fail(ctx context.Context, cause error) error {
	if errors.Is(context.Cause(ctx), ErrShutdown) {
		e.log.Warn("pipeline interrupted by shutdown, left for recovery", zap.Error(cause))
		return cause
	}
	if err := e.setStatus(ctx, job.StatusError); err != nil {
		e.log.Error("could not record failure", zap.Error(err))
		return errors.Join(cause, err)
	}
	e.log.Error("pipeline failed", zap.Error(cause))
	return cause
}
