package pipeline

import (
	"path/filepath"

	"vidpipe/job"
	"vidpipe/runner"
)

// StageDefinition ties a pipeline stage to the task that produces its artifact.
type StageDefinition struct {
	Stage  job.Stage
	Kind   runner.Kind
	Dir    string
	Suffix string // appended to the job id, e.g. "-thumbnail.jpg"
}

// OutputPath is deterministic in the job id, so a rerun writes to the same place.
func (d StageDefinition) OutputPath(jobID string) string {
	return filepath.Join(d.Dir, jobID+d.Suffix)
}

// DefaultStages returns transcode, subtitles, segments, thumbnail in that order.
func DefaultStages(outputDir string) []StageDefinition {
	return []StageDefinition{
		{Stage: job.StageTranscode, Kind: runner.KindTranscode, Dir: outputDir, Suffix: "-transcoded.mp4"},
		{Stage: job.StageSubtitles, Kind: runner.KindSubtitles, Dir: outputDir, Suffix: "-subtitles.srt"},
		{Stage: job.StageSegments, Kind: runner.KindSegments, Dir: outputDir, Suffix: "-segments.json"},
		{Stage: job.StageThumbnail, Kind: runner.KindThumbnail, Dir: outputDir, Suffix: "-thumbnail.jpg"},
	}
}
