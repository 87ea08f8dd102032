package service

import (
	"context"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/internal/judge/sandbox/spec"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
)

// RunRequest describes one local test run.
type RunRequest struct {
	Solution spec.Invocation
	// Compile is run once before the cases when set.
	Compile *spec.Invocation
	// TimeLimit overrides the problem's time limit.
	TimeLimit time.Duration
	// EnforceMemory applies the problem's memory limit as an address space cap.
	EnforceMemory bool
	Compare       *model.CompareSpec
	// Refresh downloads the samples again instead of using the store.
	Refresh  bool
	Progress func(model.Outcome)
}

// RunTests runs the solution against the test cases of problem. On cancellation the summary
// holds the outcomes finished so far and the error says why the run stopped. Failing cases are
// reported in the summary, not as an error.
func (s *Service) RunTests(ctx context.Context, problem model.Problem, req RunRequest) (model.Summary, error) {
	cases, err := s.FetchTestCases(ctx, problem, req.Refresh)
	if err != nil {
		return model.Summary{}, err
	}
	if len(cases) == 0 {
		return model.Summary{}, annotate(pkgerrors.New(pkgerrors.TestCaseInvalid).WithMessage("problem has no test cases"), problem, "run")
	}
	ctx = withPhase(withProblem(ctx, problem), "run")

	if req.Compile != nil {
		if err := s.runner.Compile(ctx, *req.Compile); err != nil {
			return model.Summary{Total: len(cases)}, annotate(err, problem, "compile")
		}
	}

	limits := s.limitsFor(problem, req)
	opts := []runner.Option{runner.WithCompare(req.Compare)}
	if req.Progress != nil {
		opts = append(opts, runner.WithProgress(req.Progress))
	}
	outcomes, err := s.runner.Run(ctx, req.Solution, cases, limits, opts...)
	summary := model.Summarize(len(cases), outcomes)
	if err != nil {
		return summary, annotate(err, problem, "run")
	}
	logger.Info(ctx, "tests finished",
		zap.Int("passed", summary.Passed),
		zap.Int("total", summary.Total),
		zap.Duration("time_limit", limits.TimeLimit),
	)
	return summary, nil
}

func (s *Service) limitsFor(problem model.Problem, req RunRequest) spec.Limits {
	timeLimit, memory := problem.TimeLimit, problem.MemoryLimitBytes
	if timeLimit == 0 || memory == 0 {
		if meta, err := s.store.Meta(problem.Key()); err == nil {
			if timeLimit == 0 {
				timeLimit = meta.TimeLimit
			}
			if memory == 0 {
				memory = meta.MemoryLimitBytes
			}
		}
	}
	if req.TimeLimit > 0 {
		timeLimit = req.TimeLimit
	}
	if timeLimit <= 0 {
		timeLimit = s.defaultTimeLimit
	}
	limits := spec.Limits{TimeLimit: timeLimit}
	if req.EnforceMemory {
		limits.MemoryLimitBytes = memory
	}
	return limits
}
