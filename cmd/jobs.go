package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidpipe/job"
	"vidpipe/status"
	"vidpipe/store"
)

func newJobsCommand(a *app) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect job records",
	}
	jobsCmd.AddCommand(newJobsListCommand(a))
	jobsCmd.AddCommand(newJobsShowCommand(a))
	return jobsCmd
}

func newJobsListCommand(a *app) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := store.New(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			filter := make([]job.Status, 0, len(statuses))
			for _, s := range statuses {
				filter = append(filter, job.Status(strings.ToLower(s)))
			}
			jobs, err := status.NewService(st).List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only show jobs in these statuses")
	return cmd
}

func newJobsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := store.New(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			j, err := status.NewService(st).Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJob(j))
			return nil
		},
	}
}
