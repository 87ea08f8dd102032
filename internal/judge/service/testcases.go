package service

import (
	"context"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/testcase"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
)

// FetchTestCases returns the sample test cases of problem. They come from the store unless
// refresh is set or nothing is stored yet; downloaded cases are stored before they are returned.
// Concurrent calls for the same problem share one download.
func (s *Service) FetchTestCases(ctx context.Context, problem model.Problem, refresh bool) ([]model.TestCase, error) {
	key := problem.Key()
	ctx = withPhase(withProblem(ctx, problem), "testcases")
	if !refresh {
		cases, err := s.store.Get(key)
		switch {
		case err == nil:
			logger.Debug(ctx, "test cases served from store", zap.Int("count", len(cases)))
			return cases, nil
		case pkgerrors.Is(err, pkgerrors.StoreCorrupted):
			logger.Warn(ctx, "stored test cases are corrupted, downloading again", logger.ErrorFields(err)...)
		case !pkgerrors.Is(err, pkgerrors.CacheMiss):
			return nil, err
		}
	}

	v, err, _ := s.fetches.Do("samples:"+key.Path(), func() (interface{}, error) {
		full, err := s.FetchProblem(ctx, problem)
		if err != nil {
			return nil, err
		}
		if err := s.store.Put(key, full.TestCases,
			testcase.WithSource(testcase.SourceSamples),
			testcase.WithLimits(full.TimeLimit, full.MemoryLimitBytes),
		); err != nil {
			return nil, err
		}
		logger.Info(ctx, "test cases downloaded", zap.Int("count", len(full.TestCases)))
		return full.TestCases, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.TestCase), nil
}

// FetchFullTestCases downloads the complete test data of problem, replacing any stored
// samples. Only judges that publish their test data support it.
func (s *Service) FetchFullTestCases(ctx context.Context, problem model.Problem) ([]model.TestCase, error) {
	a, sess, err := s.resolve(problem.Judge)
	if err != nil {
		return nil, err
	}
	fetcher, ok := a.(adapter.FullTestCaseFetcher)
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.InvalidParams, "%s does not publish full test data", problem.Judge).
			WithDetail(pkgerrors.DetailJudge, string(problem.Judge))
	}
	key := problem.Key()
	ctx = withPhase(withProblem(ctx, problem), "fulltests")

	v, err, _ := s.fetches.Do("full:"+key.Path(), func() (interface{}, error) {
		cases, err := fetcher.FetchFullTestCases(ctx, sess, problem)
		if err != nil {
			return nil, annotate(err, problem, "fulltests")
		}
		timeLimit, memory := problem.TimeLimit, problem.MemoryLimitBytes
		if timeLimit == 0 {
			if meta, err := s.store.Meta(key); err == nil {
				timeLimit, memory = meta.TimeLimit, meta.MemoryLimitBytes
			}
		}
		if err := s.store.Put(key, cases,
			testcase.WithSource(testcase.SourceFull),
			testcase.WithLimits(timeLimit, memory),
		); err != nil {
			return nil, err
		}
		logger.Info(ctx, "full test data downloaded", zap.Int("count", len(cases)))
		return cases, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.TestCase), nil
}
