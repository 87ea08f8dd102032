// Package runner runs a solution against a problem's test cases on a bounded worker pool and
// classifies each run into an Outcome.
package runner

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/compare"
	"ojkit/internal/judge/sandbox/engine"
	"ojkit/internal/judge/sandbox/observer"
	"ojkit/internal/judge/sandbox/result"
	"ojkit/internal/judge/sandbox/spec"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDisplayLimit   = 4 << 10
	defaultCompileTimeout = 60 * time.Second
	compileOutputLimit    = 1 << 20
)

// Config controls the runner.
type Config struct {
	// Jobs is the worker pool size. Zero means runtime.NumCPU().
	Jobs int `yaml:"jobs"`
	// StopOnFailure stops starting new cases once one has failed.
	StopOnFailure bool `yaml:"stopOnFailure"`
	// OutputLimitBytes caps stdout and stderr of one run.
	OutputLimitBytes int64 `yaml:"outputLimitBytes"`
	// DisplayLimitBytes truncates stdout and stderr kept in outcomes.
	DisplayLimitBytes int               `yaml:"displayLimitBytes"`
	CompileTimeout    time.Duration     `yaml:"compileTimeout"`
	Compare           model.CompareSpec `yaml:"compare"`
}

func (c Config) normalize() Config {
	if c.Jobs <= 0 {
		c.Jobs = runtime.NumCPU()
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = spec.DefaultOutputLimit
	}
	if c.DisplayLimitBytes <= 0 {
		c.DisplayLimitBytes = defaultDisplayLimit
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = defaultCompileTimeout
	}
	if c.Compare.Mode == "" {
		c.Compare.Mode = model.CompareWhitespace
	}
	return c
}

// Runner executes test cases.
type Runner struct {
	cfg     Config
	engine  engine.Engine
	metrics observer.MetricsRecorder
}

// New creates a runner. A nil recorder records nothing.
func New(cfg Config, eng engine.Engine, metrics observer.MetricsRecorder) *Runner {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &Runner{cfg: cfg.normalize(), engine: eng, metrics: metrics}
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Option adjusts one Run call.
type Option func(*runOptions)

type runOptions struct {
	compare  *model.CompareSpec
	progress func(model.Outcome)
}

// WithCompare overrides the default comparison for every case that does not carry its own.
func WithCompare(spec *model.CompareSpec) Option {
	return func(o *runOptions) { o.compare = spec }
}

// WithProgress calls fn once per finished case, in completion order. Calls are serialized.
func WithProgress(fn func(model.Outcome)) Option {
	return func(o *runOptions) { o.progress = fn }
}

// Run executes every case and returns the outcomes in input order. If ctx ends or a case cannot
// be started at all, the outcomes finished so far are returned together with the error.
func (r *Runner) Run(ctx context.Context, inv spec.Invocation, cases []model.TestCase, limits spec.Limits, opts ...Option) ([]model.Outcome, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	argv, err := inv.Argv()
	if err != nil {
		return nil, err
	}
	if limits.OutputLimitBytes <= 0 {
		limits.OutputLimitBytes = r.cfg.OutputLimitBytes
	}
	def := r.cfg.Compare
	if o.compare != nil {
		def = compare.New(def, o.compare).Spec()
	}

	var (
		mu       sync.Mutex
		outcomes = make([]model.Outcome, 0, len(cases))
		stopped  atomic.Bool
	)
	record := func(out model.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, out)
		if o.progress != nil {
			o.progress(out)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Jobs)
	for i, tc := range cases {
		if stopped.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			runSpec := spec.RunSpec{Argv: argv, Dir: inv.Dir, Env: inv.Env, Stdin: tc.Input, Limits: limits}
			res, err := r.engine.Exec(gctx, runSpec)
			if err != nil && !caseFailed(gctx, res, err) {
				return err
			}
			out := r.classify(i, tc, res, compare.New(def, tc.Compare))
			if err != nil {
				out.Status = model.StatusRuntimeError
				out.Diff = ""
				out.Err = pkgerrors.Describe(err)
			}
			r.metrics.ObserveCase(gctx, out.Status, out.Elapsed)
			if !out.Passed() && r.cfg.StopOnFailure {
				stopped.Store(true)
			}
			record(out)
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].Index < outcomes[b].Index })
	summary := model.Summarize(len(cases), outcomes)
	if err != nil {
		if ctx.Err() != nil {
			err = pkgerrors.FromContext(ctx.Err())
		}
		logger.Warn(ctx, "test run aborted",
			append(logger.ErrorFields(err), zap.Int("finished", len(outcomes)), zap.Int("total", len(cases)))...)
		return outcomes, err
	}
	logger.Info(ctx, "test run finished",
		zap.String("command", inv.String()),
		zap.Int("passed", summary.Passed),
		zap.Int("total", summary.Total),
	)
	return outcomes, nil
}

// caseFailed reports whether err belongs to a single case whose process ran. Start failures
// and cancellation abort the whole run instead.
func caseFailed(ctx context.Context, res result.ExecResult, err error) bool {
	return ctx.Err() == nil && res.Elapsed > 0 && pkgerrors.Is(err, pkgerrors.ExecutionFailed)
}

func (r *Runner) classify(index int, tc model.TestCase, res result.ExecResult, cmp compare.Comparator) model.Outcome {
	out := model.Outcome{
		Index:         index,
		Name:          tc.Name,
		Elapsed:       res.Elapsed,
		ExitCode:      res.ExitCode,
		Signal:        res.Signal,
		Stdout:        truncate(res.Stdout, r.cfg.DisplayLimitBytes),
		Stderr:        truncate(res.Stderr, r.cfg.DisplayLimitBytes),
		MemoryLimited: res.MemoryLimited,
	}
	switch {
	case res.Killed == result.KilledTimeLimit:
		out.Status = model.StatusTimeLimitExceeded
	case res.Killed == result.KilledOutputLimit:
		out.Status = model.StatusOutputLimitExceeded
	case res.Failed():
		out.Status = model.StatusRuntimeError
	default:
		if c := cmp.Compare(tc.Expected, res.Stdout); c.Match {
			out.Status = model.StatusPassed
		} else {
			out.Status = model.StatusWrongAnswer
			out.Diff = c.Diff
		}
	}
	return out
}

// Compile runs a build command once. A failing build yields CompilationError carrying the
// compiler's diagnostics.
func (r *Runner) Compile(ctx context.Context, inv spec.Invocation) error {
	argv, err := inv.Argv()
	if err != nil {
		return err
	}
	res, err := r.engine.Exec(ctx, spec.RunSpec{
		Argv: argv,
		Dir:  inv.Dir,
		Env:  inv.Env,
		Limits: spec.Limits{
			TimeLimit:        r.cfg.CompileTimeout,
			OutputLimitBytes: compileOutputLimit,
		},
	})
	ok := err == nil && res.Killed == result.NotKilled && !res.Failed()
	r.metrics.ObserveCompile(ctx, ok, res.Elapsed)
	if err != nil {
		return err
	}
	if ok {
		logger.Debug(ctx, "compiled", zap.String("command", inv.String()), zap.Duration("elapsed", res.Elapsed))
		return nil
	}

	diagnostics := strings.TrimSpace(truncate(append(res.Stderr, res.Stdout...), r.cfg.DisplayLimitBytes))
	e := pkgerrors.New(pkgerrors.CompilationError).
		WithDetail("command", inv.String()).
		WithDetail("exit_code", res.ExitCode)
	switch res.Killed {
	case result.KilledTimeLimit:
		e.WithMessagef("compilation timed out after %s", r.cfg.CompileTimeout)
	case result.KilledOutputLimit:
		e.WithMessage("compiler output exceeded the limit")
	default:
		if diagnostics != "" {
			e.WithMessagef("compilation failed:\n%s", diagnostics)
		}
	}
	return e
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "\n... (truncated)"
}
