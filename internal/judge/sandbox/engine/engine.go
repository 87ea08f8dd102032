// Package engine runs one child process with a wall deadline, output caps and an optional
// memory cap, and always reaps it.
package engine

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ojkit/internal/judge/sandbox/result"
	"ojkit/internal/judge/sandbox/spec"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
)

// Engine executes a RunSpec.
type Engine interface {
	Exec(ctx context.Context, runSpec spec.RunSpec) (result.ExecResult, error)
}

// ProcessEngine runs children directly on the host, each in its own process group.
type ProcessEngine struct {
	cfg Config
}

// New creates a process engine.
func New(cfg Config) *ProcessEngine {
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return &ProcessEngine{cfg: cfg}
}

// Exec runs runSpec to completion. Limit violations are reported in the result, not as errors.
// When ctx ends first the child is killed and the partial result is returned with a Canceled
// or Timeout error.
func (e *ProcessEngine) Exec(ctx context.Context, runSpec spec.RunSpec) (result.ExecResult, error) {
	if len(runSpec.Argv) == 0 {
		return result.ExecResult{}, pkgerrors.BadRequest("command is empty")
	}
	if err := ctx.Err(); err != nil {
		return result.ExecResult{Killed: result.KilledCanceled}, pkgerrors.FromContext(err)
	}

	outputLimit := runSpec.Limits.OutputLimitBytes
	if outputLimit <= 0 {
		outputLimit = spec.DefaultOutputLimit
	}
	overflow := make(chan struct{})
	var overflowOnce sync.Once
	onOverflow := func() { overflowOnce.Do(func() { close(overflow) }) }
	stdout := &cappedBuffer{limit: outputLimit, onOverflow: onOverflow}
	stderr := &cappedBuffer{limit: outputLimit, onOverflow: onOverflow}

	cmd := exec.Command(runSpec.Argv[0], runSpec.Argv[1:]...)
	cmd.Dir = runSpec.Dir
	if env := append(append([]string(nil), e.cfg.Env...), runSpec.Env...); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = bytes.NewReader(runSpec.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = e.cfg.WaitDelay
	setProcAttr(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.ExecResult{}, startError(runSpec.Argv[0], err)
	}
	pid := cmd.Process.Pid

	memoryLimited := false
	if limit := runSpec.Limits.MemoryLimitBytes; limit > 0 {
		if err := limitMemory(pid, limit); err != nil {
			logger.Warn(ctx, "memory limit not applied", zap.Int("pid", pid), zap.Error(err))
		} else {
			memoryLimited = true
		}
	}

	var killed atomic.Int32
	kill := func(reason result.KillReason) {
		killed.CompareAndSwap(int32(result.NotKilled), int32(reason))
		killGroup(cmd)
	}

	done := make(chan struct{})
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		var deadline <-chan time.Time
		if runSpec.Limits.TimeLimit > 0 {
			timer := time.NewTimer(runSpec.Limits.TimeLimit)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-ctx.Done():
			kill(result.KilledCanceled)
		case <-deadline:
			kill(result.KilledTimeLimit)
		case <-overflow:
			kill(result.KilledOutputLimit)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	close(done)
	<-monitorDone
	// Background grandchildren do not outlive the run.
	killGroup(cmd)

	res := result.ExecResult{
		ExitCode: exitCodeFromErr(waitErr, cmd.ProcessState),
		Signal:   signalName(cmd.ProcessState),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Elapsed:  elapsed,
		Killed:   result.KillReason(killed.Load()),
	}
	if memoryLimited && res.Killed == result.NotKilled && res.Failed() {
		res.MemoryLimited = looksLikeOOM(res.Stderr)
	}

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, pkgerrors.Wrapf(waitErr, pkgerrors.ExecutionFailed, "wait for %s: %v", runSpec.Argv[0], waitErr)
		}
	}
	if res.Killed == result.KilledCanceled {
		return res, pkgerrors.FromContext(ctx.Err())
	}
	return res, nil
}

func startError(name string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return pkgerrors.Wrapf(err, pkgerrors.CommandNotFound, "command not found: %s", name).
			WithDetail("command", name)
	}
	return pkgerrors.Wrapf(err, pkgerrors.ExecutionFailed, "start %s: %v", name, err).
		WithDetail("command", name)
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

var oomMarkers = []string{
	"memoryerror",
	"bad_alloc",
	"out of memory",
	"cannot allocate memory",
	"outofmemoryerror",
}

func looksLikeOOM(stderr []byte) bool {
	text := strings.ToLower(string(stderr))
	for _, marker := range oomMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// cappedBuffer keeps at most limit bytes and reports the first write past it. Writes never fail
// so the child is not stopped by a broken pipe before the engine kills it.
type cappedBuffer struct {
	limit      int64
	onOverflow func()

	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) > room {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.onOverflow()
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

var _ Engine = (*ProcessEngine)(nil)
