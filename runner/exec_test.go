package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestExecSuccessStreamsOutput(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	e := NewExec(zap.New(core), nil)

	err := e.Execute(context.Background(), KindSubtitles, "sh", "-c", "echo first; echo second >&2")
	require.NoError(t, err)

	var lines []string
	for _, entry := range logs.FilterField(zap.String("kind", "subtitles")).All() {
		lines = append(lines, entry.Message)
	}
	assert.Contains(t, lines, "first")
	assert.Contains(t, lines, "second")
}

func TestExecNonZeroExit(t *testing.T) {
	e := NewExec(zap.NewNop(), nil)

	err := e.Execute(context.Background(), KindSegments, "sh", "-c", "echo 'scene detection failed' >&2; exit 3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.False(t, errors.Is(err, ErrLaunch))

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, KindSegments, taskErr.Kind)
	assert.Equal(t, 3, taskErr.ExitCode)
	assert.Contains(t, taskErr.Output, "scene detection failed")
}

func TestExecMissingBinary(t *testing.T) {
	e := NewExec(zap.NewNop(), nil)

	err := e.Execute(context.Background(), KindTranscode, "vidpipe-no-such-binary")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, -1, taskErr.ExitCode)
}

func TestExecDeadline(t *testing.T) {
	e := NewExec(zap.NewNop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Execute(ctx, KindTranscode, "sleep", "5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecThrottleRefusesLaunch(t *testing.T) {
	throttle := &Throttle{
		IdleCPU:     50,
		log:         zap.NewNop(),
		cpuPercent:  func() ([]float64, error) { return []float64{95}, nil },
		availMemory: func() (uint64, error) { return 1 << 30, nil },
		freeDisk:    func(string) (uint64, error) { return 1 << 30, nil },
	}
	e := NewExec(zap.NewNop(), throttle)

	err := e.Execute(context.Background(), KindTranscode, "true")
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Contains(t, err.Error(), "insufficient system resources")
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tail := &tailBuffer{limit: 8}
	tail.Write([]byte("0123456789"))
	tail.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tail.String())
}

func TestLineLoggerSplitsPartialWrites(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	w := &lineLogger{log: zap.New(core), stream: "stderr", tail: &tailBuffer{limit: 64}}

	_, _ = w.Write([]byte("frame=  10 fps"))
	_, _ = w.Write([]byte("=25\nframe=  20"))
	w.Flush()

	var messages []string
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"frame=  10 fps=25", "frame=  20"}, messages)
	assert.True(t, strings.HasSuffix(w.tail.String(), "frame=  20"))
}

func TestExecDeadlineStopsForkedChildren(t *testing.T) {
	e := NewExec(zap.NewNop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The shell forks sleep, which inherits the output pipes.
	start := time.Now()
	err := e.Execute(ctx, KindSubtitles, "sh", "-c", "sleep 4; echo done")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 2*time.Second)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.NotContains(t, taskErr.Output, "done")
}

func TestLineLoggerSplitsCarriageReturns(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	w := &lineLogger{log: zap.New(core), stream: "stderr", tail: &tailBuffer{limit: maxTail}}

	_, err := w.Write([]byte("frame=1 fps=0\rframe=2 fps=25\rframe="))
	require.NoError(t, err)
	_, err = w.Write([]byte("3 fps=30\r\nencoding done\n"))
	require.NoError(t, err)
	w.Flush()

	var lines []string
	for _, entry := range logs.All() {
		lines = append(lines, entry.Message)
	}
	assert.Equal(t, []string{"frame=1 fps=0", "frame=2 fps=25", "frame=3 fps=30", "encoding done"}, lines)
}
