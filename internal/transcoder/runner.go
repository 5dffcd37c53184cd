package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chromi/internal/logging"
)

const (
	// stderrTailBytes bounds how much process diagnostics is kept per run.
	stderrTailBytes = 4096

	// waitDelay bounds pipe draining after the process is killed.
	waitDelay = 2 * time.Second
)

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

// runner executes external tools and keeps track of live processes so they
// can be killed on shutdown.
type runner struct {
	invoker   string
	processes map[*exec.Cmd]string
	mu        sync.Mutex
}

func newRunner(invoker string) *runner {
	return &runner{
		invoker:   invoker,
		processes: make(map[*exec.Cmd]string),
	}
}

// run executes bin with args. ctx must already carry the conversion
// deadline; exceeding it is reported as ErrTimeout.
func (r *runner) run(ctx context.Context, label, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	logging.Debug("%s: %s %s", r.invoker, bin, strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(ErrTimeout, r.invoker, ctx.Err())
		}
		return newError(ErrProcessFailed, r.invoker, fmt.Errorf("start %s: %w", bin, err))
	}

	r.mu.Lock()
	r.processes[cmd] = label
	r.mu.Unlock()

	err := cmd.Wait()

	r.mu.Lock()
	delete(r.processes, cmd)
	r.mu.Unlock()

	if err == nil {
		return nil
	}

	switch cerr := ctx.Err(); {
	case errors.Is(cerr, context.DeadlineExceeded):
		return newError(ErrTimeout, r.invoker, cerr)
	case errors.Is(cerr, context.Canceled):
		// The caller went away; the kill is not the input's fault.
		return newError(ErrProcessFailed, r.invoker, cerr)
	}
	e := newError(ErrProcessFailed, r.invoker, err)
	e.Stderr = stderr.String()
	return e
}

// Cleanup kills every process still running.
func (r *runner) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cmd, label := range r.processes {
		if cmd.Process == nil {
			continue
		}
		logging.Info("Killing %s process for: %s", r.invoker, label)
		if err := cmd.Process.Kill(); err != nil {
			logging.Warn("failed to kill %s process for %s: %v", r.invoker, label, err)
		}
	}
}

// Active reports how many external processes are running.
func (r *runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.processes)
}

// checkJob validates preconditions before anything is spawned.
func checkJob(invoker string, job Job) error {
	if job.StartSeconds < 0 {
		return newError(ErrProcessFailed, invoker, fmt.Errorf("negative start offset %v", job.StartSeconds))
	}
	if job.DurationSeconds <= 0 {
		return newError(ErrProcessFailed, invoker, fmt.Errorf("non-positive duration %v", job.DurationSeconds))
	}
	if job.OutputPath == "" {
		return newError(ErrProcessFailed, invoker, errors.New("no output path"))
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		return newError(ErrProcessFailed, invoker, fmt.Errorf("input: %w", err))
	}
	return nil
}

// checkOutput reports ErrEmptyOutput for a missing or zero-length file.
func checkOutput(invoker, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return newError(ErrEmptyOutput, invoker, err)
	}
	if info.Size() == 0 {
		return newError(ErrEmptyOutput, invoker, nil)
	}
	return nil
}

// discardPartial truncates whatever a killed process left behind. The
// path itself stays with its owner.
func discardPartial(path string) {
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("failed to discard partial output %s: %v", path, err)
	}
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
