package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"vidpipe/job"
)

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(header))
	return tw
}

// renderJobs prints one row per job with its stage progress.
func renderJobs(jobs []*job.Job) string {
	tw := newTable("ID", "Status", "Stages", "Created", "Source")
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Stages", Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	for _, j := range jobs {
		tw.AppendRow(table.Row{
			j.ID,
			j.Status,
			fmt.Sprintf("%d/%d", len(j.Artifacts), len(job.Stages())),
			j.CreatedAt.Local().Format(time.DateTime),
			j.SourcePath,
		})
	}
	return tw.Render()
}

// renderJob prints the record one field per row, artifacts in pipeline order.
func renderJob(j *job.Job) string {
	tw := newTable("Field", "Value")
	tw.AppendRows([]table.Row{
		{"id", j.ID},
		{"status", j.Status},
		{"sourcePath", j.SourcePath},
		{"createdAt", j.CreatedAt.Local().Format(time.DateTime)},
		{"updatedAt", j.UpdatedAt.Local().Format(time.DateTime)},
	})
	for _, stage := range job.Stages() {
		value := "-"
		if path, ok := j.Artifacts[stage]; ok {
			value = path
		}
		tw.AppendRow(table.Row{stage.Field(), value})
	}
	return tw.Render()
}
