package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxTail bounds how much diagnostic output a TaskError keeps.
const maxTail = 16 * 1024

// waitDelay is how long Wait keeps draining output after the task is killed.
const waitDelay = 2 * time.Second

// commandExecutor abstracts process execution so specializations can be tested.
type commandExecutor interface {
	Execute(ctx context.Context, kind Kind, name string, args ...string) error
}

// Exec launches external programs with os/exec and streams their output to the log.
type Exec struct {
	log      *zap.Logger
	throttle *Throttle
}

func NewExec(log *zap.Logger, throttle *Throttle) *Exec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exec{log: log, throttle: throttle}
}

// Execute runs name with args exactly once.
func (e *Exec) Execute(ctx context.Context, kind Kind, name string, args ...string) error {
	command := name + " " + strings.Join(args, " ")

	if e.throttle != nil {
		if err := e.throttle.Check(); err != nil {
			return launchError(kind, command, fmt.Errorf("insufficient system resources: %w", err))
		}
	}

	cmd := exec.CommandContext(ctx, name, args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	tail := &tailBuffer{limit: maxTail}
	logger := e.log.With(zap.String("kind", string(kind)))
	stdout := &lineLogger{log: logger, stream: "stdout", tail: tail}
	stderr := &lineLogger{log: logger, stream: "stderr", tail: tail}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Info("launching task", zap.String("command", command))

	if err := cmd.Start(); err != nil {
		return launchError(kind, command, err)
	}
	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	if err == nil {
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return executionError(kind, command, exitCode, tail.String(), err)
}

// lineLogger forwards complete lines of process output to the logger.
// Carriage returns end a line too, so ffmpeg progress updates are logged one by one.
type lineLogger struct {
	log    *zap.Logger
	stream string
	tail   *tailBuffer
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (w *lineLogger) Write(p []byte) (int, error) {
	n := len(p)
	w.tail.Write(p)

	w.mu.Lock()
	defer w.mu.Unlock()
	for len(p) > 0 {
		i := bytes.IndexAny(p, "\r\n")
		if i < 0 {
			// Keep the partial line for the next write.
			w.buf.Write(p)
			break
		}
		w.buf.Write(p[:i])
		w.emit(w.buf.String())
		w.buf.Reset()
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.log.Debug(line, zap.String("stream", w.stream))
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (t *tailBuffer) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.data = append([]byte(nil), t.data[over:]...)
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}
