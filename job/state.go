package job

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrArtifactConflict  = errors.New("artifact already recorded")
)

// CanTransition enforces pending -> processing -> {completed | error}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Update is a partial write: nil Status leaves the status alone, Artifacts are merged in.
type Update struct {
	Status    *Status
	Artifacts Artifacts
}

func SetStatus(s Status) Update { return Update{Status: &s} }

func SetArtifact(stage Stage, path string) Update {
	return Update{Artifacts: Artifacts{stage: path}}
}

// Apply validates u against j and mutates j in place. j is left untouched on error.
func Apply(j *Job, u Update) error {
	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, *u.Status)
		}
		if err := ValidateTransition(j.Status, *u.Status); err != nil {
			return err
		}
	}
	for stage, path := range u.Artifacts {
		if !stage.Valid() || strings.TrimSpace(path) == "" {
			return fmt.Errorf("%w: artifact %q=%q", ErrInvalidArgument, stage, path)
		}
		if j.Status.Terminal() {
			return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Status)
		}
		if existing, ok := j.Artifacts[stage]; ok && existing != path {
			return fmt.Errorf("%w: %s=%s", ErrArtifactConflict, stage, existing)
		}
	}

	if j.Artifacts == nil {
		j.Artifacts = Artifacts{}
	}
	for stage, path := range u.Artifacts {
		j.Artifacts[stage] = path
	}
	if u.Status != nil {
		j.Status = *u.Status
	}
	return nil
}
