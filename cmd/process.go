package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidpipe/events"
	"vidpipe/job"
	"vidpipe/store"
)

func newProcessCommand(a *app) *cobra.Command {
	var asJSON bool
	var parallel bool

	cmd := &cobra.Command{
		Use:   "process <video>",
		Short: "Run the full pipeline for one file and print the final record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parallel") {
				a.cfg.ParallelStages = parallel
			}
			final, runErr := a.process(cmd.Context(), args[0])
			if final != nil {
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if err := enc.Encode(final); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), renderJob(final))
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the record as JSON")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "Run subtitles, segments, and thumbnail concurrently")
	return cmd
}

// process runs one job in the foreground. The record is returned even when a stage failed.
func (a *app) process(ctx context.Context, video string) (*job.Job, error) {
	source, err := filepath.Abs(video)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("source video: %w", err)
	}
	if err := a.prepareDirs(); err != nil {
		return nil, err
	}

	st, closeStore, err := store.New(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	defer closeStore()

	r, err := a.newRunner(a.cfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("init task runner: %w", err)
	}
	orch := a.orchestrator(st, r, events.Nop{})

	j, err := st.Create(ctx, source)
	if err != nil {
		return nil, err
	}
	a.log.Info("processing", zap.String("job_id", j.ID), zap.String("source", source))

	runCtx := ctx
	if a.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.JobTimeout)
		defer cancel()
	}
	runErr := orch.Run(runCtx, j.ID)

	final, err := st.Get(context.WithoutCancel(ctx), j.ID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}
