// Package service is the core API: it ties judge sessions, adapters, the test case store and the
// local runner together behind synchronous operations with explicit errors.
package service

import (
	"context"
	"time"

	"ojkit/internal/common/cache"
	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/internal/judge/session"
	"ojkit/internal/judge/testcase"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/contextkey"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollMaxWait  = 5 * time.Minute
	DefaultVerdictTTL   = 24 * time.Hour
	DefaultTimeLimit    = 2 * time.Second

	lockKeyPrefix    = "ojkit:poll:lock:"
	verdictKeyPrefix = "ojkit:verdict:"
)

// Config holds service dependencies and settings.
type Config struct {
	Adapters []adapter.Adapter
	Sessions session.Options
	Store    *testcase.Store
	Runner   *runner.Runner
	// Cache is optional. When set, polling takes a shared lock per submission and finished
	// verdicts are shared between processes.
	Cache        cache.Cache
	PollInterval time.Duration
	PollMaxWait  time.Duration
	VerdictTTL   time.Duration
	// DefaultTimeLimit applies to problems whose time limit is unknown.
	DefaultTimeLimit time.Duration
}

// Service handles every judge operation of one user.
type Service struct {
	sessions *session.Manager
	adapters map[model.Judge]adapter.Adapter
	store    *testcase.Store
	runner   *runner.Runner
	cache    cache.Cache

	pollInterval     time.Duration
	pollMaxWait      time.Duration
	verdictTTL       time.Duration
	defaultTimeLimit time.Duration

	fetches singleflight.Group
	polls   keyedMutex
}

// New creates a service.
func New(cfg Config) (*Service, error) {
	if len(cfg.Adapters) == 0 {
		return nil, pkgerrors.BadRequest("at least one judge adapter is required")
	}
	if cfg.Store == nil {
		return nil, pkgerrors.BadRequest("test case store is required")
	}
	if cfg.Runner == nil {
		return nil, pkgerrors.BadRequest("runner is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollMaxWait <= 0 {
		cfg.PollMaxWait = DefaultPollMaxWait
	}
	if cfg.VerdictTTL <= 0 {
		cfg.VerdictTTL = DefaultVerdictTTL
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = DefaultTimeLimit
	}

	adapters := make(map[model.Judge]adapter.Adapter, len(cfg.Adapters))
	sites := make([]session.Site, 0, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Judge()] = a
		sites = append(sites, a)
	}
	return &Service{
		sessions:         session.NewManager(cfg.Sessions, sites...),
		adapters:         adapters,
		store:            cfg.Store,
		runner:           cfg.Runner,
		cache:            cfg.Cache,
		pollInterval:     cfg.PollInterval,
		pollMaxWait:      cfg.PollMaxWait,
		verdictTTL:       cfg.VerdictTTL,
		defaultTimeLimit: cfg.DefaultTimeLimit,
	}, nil
}

// Sessions exposes the session manager, e.g. for cookie export.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Store exposes the test case store.
func (s *Service) Store() *testcase.Store { return s.store }

// Judges lists the configured judges in display order.
func (s *Service) Judges() []model.Judge {
	out := make([]model.Judge, 0, len(s.adapters))
	for _, j := range model.AllJudges {
		if _, ok := s.adapters[j]; ok {
			out = append(out, j)
		}
	}
	return out
}

// Adapter returns the adapter of judge.
func (s *Service) Adapter(judge model.Judge) (adapter.Adapter, error) {
	a, ok := s.adapters[judge]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.JudgeNotFound, "judge %s is not configured", judge).
			WithDetail(pkgerrors.DetailJudge, string(judge))
	}
	return a, nil
}

func (s *Service) resolve(judge model.Judge) (adapter.Adapter, *session.Session, error) {
	a, err := s.Adapter(judge)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.sessions.Session(judge)
	if err != nil {
		return nil, nil, err
	}
	return a, sess, nil
}

func withProblem(ctx context.Context, p model.Problem) context.Context {
	ctx = context.WithValue(ctx, contextkey.Judge, string(p.Judge))
	return context.WithValue(ctx, contextkey.Problem, p.Key().Path())
}

func withPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, contextkey.Phase, phase)
}

// annotate fills in where an error happened unless something closer to the failure already did.
func annotate(err error, p model.Problem, phase string) error {
	if err == nil {
		return nil
	}
	e := pkgerrors.GetError(err)
	e.WithDefaultDetail(pkgerrors.DetailJudge, string(p.Judge))
	if p.ID != "" {
		e.WithDefaultDetail(pkgerrors.DetailProblem, p.ID)
	}
	if p.ContestID != "" {
		e.WithDefaultDetail(pkgerrors.DetailContest, p.ContestID)
	}
	e.WithDefaultDetail(pkgerrors.DetailPhase, phase)
	return e
}

// Login authenticates with judge. Credentials stay in memory for re-login.
func (s *Service) Login(ctx context.Context, judge model.Judge, creds model.Credentials) error {
	if _, err := s.Adapter(judge); err != nil {
		return err
	}
	_, err := s.sessions.Login(ctx, judge, creds)
	return err
}

// EnsureLoggedIn confirms that judge's session can make authenticated requests. Restored
// cookies are probed first; stored credentials are used when the probe rejects them.
func (s *Service) EnsureLoggedIn(ctx context.Context, judge model.Judge) error {
	if _, err := s.Adapter(judge); err != nil {
		return err
	}
	_, err := s.sessions.EnsureLoggedIn(ctx, judge)
	return err
}

// confirmRestored checks imported cookies nobody has confirmed yet. A session without any
// cookies is left to the lazy login of session.Do.
func confirmRestored(ctx context.Context, sess *session.Session) error {
	if sess.State() != model.StateLoggedOut || len(sess.Cookies()) == 0 {
		return nil
	}
	if err := sess.EnsureLoggedIn(ctx); err != nil && !pkgerrors.Is(err, pkgerrors.NotLoggedIn) {
		return err
	}
	return nil
}

// Logout drops the session of judge.
func (s *Service) Logout(ctx context.Context, judge model.Judge) {
	s.sessions.Logout(ctx, judge)
}

// FetchProblems lists the problems of a contest.
func (s *Service) FetchProblems(ctx context.Context, judge model.Judge, contestID string) ([]model.Problem, error) {
	a, sess, err := s.resolve(judge)
	if err != nil {
		return nil, err
	}
	p := model.Problem{Judge: judge, ContestID: contestID}
	ctx = withPhase(withProblem(ctx, p), "list")
	problems, err := a.ListProblems(ctx, sess, contestID)
	if err != nil {
		return nil, annotate(err, p, "list")
	}
	logger.Debug(ctx, "listed problems", zap.String("contest", contestID), zap.Int("count", len(problems)))
	return problems, nil
}

// FetchContest lists the problems of a contest and wraps them with the contest identity.
func (s *Service) FetchContest(ctx context.Context, judge model.Judge, contestID string) (model.Contest, error) {
	problems, err := s.FetchProblems(ctx, judge, contestID)
	if err != nil {
		return model.Contest{}, err
	}
	return model.Contest{Judge: judge, ID: contestID, Problems: problems}, nil
}

// FetchProblem returns problem with limits and samples as published by the judge.
func (s *Service) FetchProblem(ctx context.Context, problem model.Problem) (model.Problem, error) {
	a, sess, err := s.resolve(problem.Judge)
	if err != nil {
		return model.Problem{}, err
	}
	ctx = withPhase(withProblem(ctx, problem), "problem")
	full, err := a.FetchProblem(ctx, sess, problem)
	if err != nil {
		return model.Problem{}, annotate(err, problem, "problem")
	}
	return full, nil
}
