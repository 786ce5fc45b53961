// Package cmd is the vidpipe command line: the HTTP service and local tooling.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidpipe/config"
	"vidpipe/events"
	"vidpipe/job"
	"vidpipe/logger"
	"vidpipe/pipeline"
	"vidpipe/runner"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	newRunner func(cfg *config.Config, log *zap.Logger) (runner.Runner, error)

	shutdownGrace time.Duration
}

func newApp() *app {
	return &app{newRunner: defaultRunner}
}

// defaultRunner is the ffmpeg/script dispatcher, optionally checking outputs.
func defaultRunner(cfg *config.Config, log *zap.Logger) (runner.Runner, error) {
	d, err := runner.NewDispatcher(cfg, log.Named("runner"))
	if err != nil {
		return nil, err
	}
	if cfg.VerifyOutputs {
		return runner.Verified(d), nil
	}
	return d, nil
}

func (a *app) load() error {
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		a.cfg = cfg
	}
	if a.log == nil {
		log, err := logger.New(a.cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		a.log = log
	}
	return nil
}

// prepareDirs makes the upload and output directories absolute and present,
// so every task gets absolute paths.
func (a *app) prepareDirs() error {
	for _, dir := range []*string{&a.cfg.UploadDir, &a.cfg.OutputDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", abs, err)
		}
		*dir = abs
	}
	return nil
}

// publisher returns the Kafka publisher when brokers are configured.
func (a *app) publisher() (events.Publisher, func() error, error) {
	if len(a.cfg.KafkaBrokers) == 0 {
		return events.Nop{}, func() error { return nil }, nil
	}
	p, err := events.NewKafkaPublisher(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.log.Named("events"))
	if err != nil {
		return nil, nil, err
	}
	a.log.Info("publishing status events", zap.Strings("brokers", a.cfg.KafkaBrokers), zap.String("topic", a.cfg.KafkaTopic))
	return p, p.Close, nil
}

func (a *app) orchestrator(st job.Store, r runner.Runner, pub events.Publisher) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(st, r, pipeline.DefaultStages(a.cfg.OutputDir),
		pipeline.WithPublisher(pub),
		pipeline.WithStageTimeout(a.cfg.StageTimeout),
		pipeline.WithParallelStages(a.cfg.ParallelStages),
		pipeline.WithLogger(a.log.Named("pipeline")),
	)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "vidpipe",
		Short:         "Video job pipeline: transcode, subtitles, scene segments, thumbnail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newProcessCommand(a))
	root.AddCommand(newJobsCommand(a))
	return root
}

// Execute runs the command line against os.Args.
func Execute(ctx context.Context) error {
	return newRootCommand(newApp()).ExecuteContext(ctx)
}
