// Package runner invokes the external programs that do the actual media work.
//
// Every stage kind is one variant of Task; the Dispatcher maps a variant to a
// concrete command line, launches it exactly once, and classifies the outcome
// as success, LaunchFailure, or ExecutionFailure.
package runner

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects which external unit of work a Task runs.
type Kind string

const (
	KindTranscode Kind = "transcode"
	KindSubtitles Kind = "subtitles"
	KindSegments  Kind = "segments"
	KindThumbnail Kind = "thumbnail"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTranscode, KindSubtitles, KindSegments, KindThumbnail:
		return true
	}
	return false
}

// Task is one invocation: read InputPath, write OutputPath.
type Task struct {
	Kind       Kind
	InputPath  string
	OutputPath string
}

// Runner runs a single task to completion. A nil error means the external
// process reported success; the output file is not re-checked.
type Runner interface {
	Run(ctx context.Context, t Task) error
}

// Class distinguishes a process that never started from one that failed.
type Class string

const (
	LaunchFailure    Class = "launch_failure"
	ExecutionFailure Class = "execution_failure"
)

var (
	ErrLaunch    = errors.New("task could not be launched")
	ErrExecution = errors.New("task failed")
)

// TaskError carries the external signal and the tail of the diagnostic output.
type TaskError struct {
	Kind     Kind
	Class    Class
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s", e.Kind, e.Class)
	if e.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.Command, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets callers match on ErrLaunch / ErrExecution without caring about the cause.
func (e *TaskError) Is(target error) bool {
	switch target {
	case ErrLaunch:
		return e.Class == LaunchFailure
	case ErrExecution:
		return e.Class == ExecutionFailure
	}
	return false
}

func launchError(kind Kind, command string, err error) *TaskError {
	return &TaskError{Kind: kind, Class: LaunchFailure, Command: command, ExitCode: -1, Err: err}
}

func executionError(kind Kind, command string, exitCode int, output string, err error) *TaskError {
	return &TaskError{Kind: kind, Class: ExecutionFailure, Command: command, ExitCode: exitCode, Output: output, Err: err}
}
