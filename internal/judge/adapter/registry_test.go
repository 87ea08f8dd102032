package adapter_test

import (
	"context"
	"testing"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	"ojkit/internal/testutil"
	pkgerrors "ojkit/pkg/errors"
)

const stubJudge model.Judge = "stubjudge"

type stubAdapter struct {
	adapter.Base
	opts adapter.Options
}

func (stubAdapter) Authenticate(context.Context, *session.Session, model.Credentials) error {
	return nil
}
func (stubAdapter) IsSessionValid(*session.Response) bool { return true }
func (stubAdapter) ListProblems(context.Context, *session.Session, string) ([]model.Problem, error) {
	return nil, nil
}
func (stubAdapter) FetchProblem(_ context.Context, _ *session.Session, p model.Problem) (model.Problem, error) {
	return p, nil
}
func (stubAdapter) FetchTestCases(context.Context, *session.Session, model.Problem) ([]model.TestCase, error) {
	return nil, nil
}
func (stubAdapter) Submit(context.Context, *session.Session, model.Problem, string, string) (model.Submission, error) {
	return model.Submission{}, nil
}
func (stubAdapter) PollVerdict(_ context.Context, _ *session.Session, sub model.Submission) (model.Submission, error) {
	return sub, nil
}

func init() {
	adapter.Register(adapter.Definition{
		Judge:              stubJudge,
		Name:               "Stub",
		DefaultBaseURL:     "https://stub.invalid",
		DefaultMinInterval: time.Second,
		Build: func(opts adapter.Options) (adapter.Adapter, error) {
			return stubAdapter{Base: adapter.NewBase(stubJudge, opts.BaseURL, opts.MinInterval), opts: opts}, nil
		},
	})
}

func TestBuildDefaults(t *testing.T) {
	a, err := adapter.Build(stubJudge, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, a.BaseURL(), "https://stub.invalid")
	testutil.AssertEqual(t, a.MinInterval(), time.Second)

	a, err = adapter.Build(stubJudge, map[string]interface{}{"base_url": "http://127.0.0.1:9000/", "min_interval": "10ms", "handle": "me"})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, a.BaseURL(), "http://127.0.0.1:9000")
	testutil.AssertEqual(t, a.MinInterval(), 10*time.Millisecond)
	testutil.AssertEqual(t, a.(stubAdapter).opts.Handle, "me")
}

func TestBuildErrors(t *testing.T) {
	_, err := adapter.Build("nosuchjudge", nil)
	testutil.AssertCode(t, err, pkgerrors.JudgeNotFound)

	_, err = adapter.Build(stubJudge, map[string]interface{}{"min_interval": "soon"})
	testutil.AssertCode(t, err, pkgerrors.InvalidParams)
	testutil.AssertEqual(t, pkgerrors.GetError(err).Details[pkgerrors.DetailJudge], string(stubJudge))
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		testutil.AssertTrue(t, recover() != nil, "duplicate registration must panic")
	}()
	adapter.Register(adapter.Definition{Judge: stubJudge})
}

func TestDefinitionsSorted(t *testing.T) {
	defs := adapter.Definitions()
	for i := 1; i < len(defs); i++ {
		testutil.AssertTrue(t, defs[i-1].Judge < defs[i].Judge, "definitions sorted by judge")
	}
	found := false
	for _, def := range defs {
		found = found || def.Judge == stubJudge
	}
	testutil.AssertTrue(t, found, "stub judge registered")
}
