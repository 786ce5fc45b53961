package job

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Stage names one step of the pipeline and the artifact it produces.
type Stage string

const (
	StageTranscode Stage = "transcode"
	StageSubtitles Stage = "subtitles"
	StageSegments  Stage = "segments"
	StageThumbnail Stage = "thumbnail"
)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageTranscode, StageSubtitles, StageSegments, StageThumbnail}
}

// Field is the record field that carries the stage's artifact path.
func (s Stage) Field() string {
	switch s {
	case StageTranscode:
		return "transcodedPath"
	case StageSubtitles:
		return "subtitlesPath"
	case StageSegments:
		return "segmentsPath"
	case StageThumbnail:
		return "thumbnailPath"
	}
	return ""
}

func (s Stage) Valid() bool { return s.Field() != "" }

// Artifacts maps a completed stage to the path of its output.
type Artifacts map[Stage]string

func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Job is the durable record of one video's pipeline run.
type Job struct {
	ID         string
	SourcePath string
	Status     Status
	Artifacts  Artifacts
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy so callers never share the artifact map.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Artifacts = j.Artifacts.Clone()
	return &cp
}

// Has reports whether stage has a recorded artifact.
func (j *Job) Has(stage Stage) bool {
	_, ok := j.Artifacts[stage]
	return ok
}

type jobJSON struct {
	ID             string    `json:"id"`
	SourcePath     string    `json:"sourcePath"`
	Status         Status    `json:"status"`
	TranscodedPath string    `json:"transcodedPath,omitempty"`
	SubtitlesPath  string    `json:"subtitlesPath,omitempty"`
	SegmentsPath   string    `json:"segmentsPath,omitempty"`
	ThumbnailPath  string    `json:"thumbnailPath,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// MarshalJSON flattens artifacts into one field per stage, the shape pollers read.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:             j.ID,
		SourcePath:     j.SourcePath,
		Status:         j.Status,
		TranscodedPath: j.Artifacts[StageTranscode],
		SubtitlesPath:  j.Artifacts[StageSubtitles],
		SegmentsPath:   j.Artifacts[StageSegments],
		ThumbnailPath:  j.Artifacts[StageThumbnail],
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = Job{
		ID:         raw.ID,
		SourcePath: raw.SourcePath,
		Status:     raw.Status,
		Artifacts:  Artifacts{},
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	for stage, path := range map[Stage]string{
		StageTranscode: raw.TranscodedPath,
		StageSubtitles: raw.SubtitlesPath,
		StageSegments:  raw.SegmentsPath,
		StageThumbnail: raw.ThumbnailPath,
	} {
		if path != "" {
			j.Artifacts[stage] = path
		}
	}
	return nil
}
