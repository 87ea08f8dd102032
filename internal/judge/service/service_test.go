package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ojkit/internal/common/cache"
	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/result"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/internal/judge/sandbox/spec"
	"ojkit/internal/judge/session"
	"ojkit/internal/judge/testcase"
	"ojkit/internal/testutil"
	pkgerrors "ojkit/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeJudge answers from memory and counts what it was asked.
type fakeJudge struct {
	adapter.Base

	fetches  atomic.Int32
	polls    atomic.Int32
	submits  atomic.Int32
	accepted atomic.Bool
	// pendingPolls is how many polls report Pending before Accepted. Negative never finishes.
	pendingPolls int32
	samples      []model.TestCase
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		Base: adapter.NewBase(model.JudgeAtCoder, "https://judge.invalid", 0),
		samples: []model.TestCase{
			{Name: "sample-1", Input: []byte("1\n"), Expected: []byte("1\n")},
			{Name: "sample-2", Input: []byte("2\n"), Expected: []byte("3\n")},
			{Name: "sample-3", Input: []byte("4\n"), Expected: []byte("4\n")},
		},
	}
}

func (f *fakeJudge) Authenticate(_ context.Context, _ *session.Session, creds model.Credentials) error {
	if creds.Password != "secret" {
		return pkgerrors.New(pkgerrors.InvalidCredentials)
	}
	return nil
}

func (f *fakeJudge) IsSessionValid(*session.Response) bool { return true }

func (f *fakeJudge) ListProblems(_ context.Context, _ *session.Session, contestID string) ([]model.Problem, error) {
	if contestID != "abc300" {
		return nil, pkgerrors.New(pkgerrors.ContestNotFound)
	}
	return []model.Problem{{Judge: model.JudgeAtCoder, ContestID: contestID, ID: "abc300_a", Index: "A"}}, nil
}

func (f *fakeJudge) FetchProblem(_ context.Context, _ *session.Session, p model.Problem) (model.Problem, error) {
	f.fetches.Add(1)
	p.TimeLimit = 1500 * time.Millisecond
	p.MemoryLimitBytes = 1 << 30
	p.TestCases = f.samples
	return p, nil
}

func (f *fakeJudge) FetchTestCases(ctx context.Context, s *session.Session, p model.Problem) ([]model.TestCase, error) {
	full, err := f.FetchProblem(ctx, s, p)
	return full.TestCases, err
}

func (f *fakeJudge) Submit(_ context.Context, _ *session.Session, p model.Problem, code, lang string) (model.Submission, error) {
	f.submits.Add(1)
	return model.Submission{Judge: p.Judge, ContestID: p.ContestID, ProblemID: p.ID, ID: "42", Language: lang, Code: code, Verdict: model.VerdictPending}, nil
}

func (f *fakeJudge) PollVerdict(_ context.Context, _ *session.Session, sub model.Submission) (model.Submission, error) {
	n := f.polls.Add(1)
	if f.pendingPolls < 0 || n <= f.pendingPolls {
		sub.Verdict = model.VerdictPending
		return sub, nil
	}
	sub.Verdict = model.VerdictAccepted
	return sub, nil
}

func (f *fakeJudge) IsAccepted(context.Context, *session.Session, model.Problem) (bool, error) {
	return f.accepted.Load(), nil
}

// checkingJudge also checks restored cookies.
type checkingJudge struct {
	*fakeJudge
	checks atomic.Int32
	reject bool
}

func (p *checkingJudge) Probe(context.Context, *session.Session) error {
	p.checks.Add(1)
	if p.reject {
		return pkgerrors.New(pkgerrors.NotLoggedIn)
	}
	return nil
}

// echoEngine prints the input back and remembers the limits it was given.
type echoEngine struct {
	mu     sync.Mutex
	limits []spec.Limits
}

func (e *echoEngine) Exec(_ context.Context, rs spec.RunSpec) (result.ExecResult, error) {
	e.mu.Lock()
	e.limits = append(e.limits, rs.Limits)
	e.mu.Unlock()
	return result.ExecResult{Stdout: rs.Stdin, Elapsed: time.Millisecond}, nil
}

var problem = model.Problem{Judge: model.JudgeAtCoder, ContestID: "abc300", ID: "abc300_a", Index: "A"}

func newTestService(t *testing.T, judge adapter.Adapter, c cache.Cache) (*Service, *echoEngine) {
	t.Helper()
	store, err := testcase.New(t.TempDir())
	testutil.MustNoError(t, err)
	eng := &echoEngine{}
	svc, err := New(Config{
		Adapters:     []adapter.Adapter{judge},
		Sessions:     testutil.FastSessionOptions(),
		Store:        store,
		Runner:       runner.New(runner.Config{Jobs: 2}, eng, nil),
		Cache:        c,
		PollInterval: time.Millisecond,
		PollMaxWait:  time.Second,
	})
	testutil.MustNoError(t, err)
	return svc, eng
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	testutil.MustNoError(t, err)
	return rc, mr
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t, newFakeJudge(), nil)
	ctx := context.Background()

	err := svc.Login(ctx, model.JudgeAtCoder, model.Credentials{Username: "u", Password: "wrong"})
	testutil.AssertCode(t, err, pkgerrors.InvalidCredentials)

	testutil.MustNoError(t, svc.Login(ctx, model.JudgeAtCoder, model.Credentials{Username: "u", Password: "secret"}))
	sess, err := svc.Sessions().Session(model.JudgeAtCoder)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, sess.State(), model.StateLoggedIn)

	err = svc.Login(ctx, model.JudgeCodeforces, model.Credentials{Password: "secret"})
	testutil.AssertCode(t, err, pkgerrors.JudgeNotFound)
}

func TestFetchProblems(t *testing.T) {
	svc, _ := newTestService(t, newFakeJudge(), nil)
	problems, err := svc.FetchProblems(context.Background(), model.JudgeAtCoder, "abc300")
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, len(problems), 1)
	testutil.AssertDeepEqual(t, svc.Judges(), []model.Judge{model.JudgeAtCoder})

	contest, err := svc.FetchContest(context.Background(), model.JudgeAtCoder, "abc300")
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, contest.ID, "abc300")
	testutil.AssertEqual(t, contest.Judge, model.JudgeAtCoder)
	testutil.AssertDeepEqual(t, contest.Problems, problems)

	_, err = svc.FetchProblems(context.Background(), model.JudgeAtCoder, "abc999")
	testutil.AssertCode(t, err, pkgerrors.ContestNotFound)
	e := pkgerrors.GetError(err)
	testutil.AssertEqual(t, e.Details[pkgerrors.DetailContest], "abc999")
	testutil.AssertEqual(t, e.Details[pkgerrors.DetailPhase], "list")
}

func TestFetchTestCasesServedFromStore(t *testing.T) {
	judge := newFakeJudge()
	svc, _ := newTestService(t, judge, nil)
	ctx := context.Background()

	first, err := svc.FetchTestCases(ctx, problem, false)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, judge.fetches.Load(), int32(1))

	second, err := svc.FetchTestCases(ctx, problem, false)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, judge.fetches.Load(), int32(1))
	testutil.AssertDeepEqual(t, second, first)

	meta, err := svc.Store().Meta(problem.Key())
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, meta.TimeLimit, 1500*time.Millisecond)
	testutil.AssertEqual(t, meta.Source, testcase.SourceSamples)

	_, err = svc.FetchTestCases(ctx, problem, true)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, judge.fetches.Load(), int32(2))
}

func TestFetchTestCasesRepairsCorruptStore(t *testing.T) {
	judge := newFakeJudge()
	svc, _ := newTestService(t, judge, nil)
	ctx := context.Background()

	_, err := svc.FetchTestCases(ctx, problem, false)
	testutil.MustNoError(t, err)
	path := filepath.Join(svc.Store().Root(), filepath.FromSlash(problem.Key().Path()), "sample-1.in")
	testutil.MustNoError(t, os.WriteFile(path, []byte("tampered\n"), 0o644))

	cases, err := svc.FetchTestCases(ctx, problem, false)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, judge.fetches.Load(), int32(2))
	testutil.AssertEqual(t, string(cases[0].Input), "1\n")
}

func TestFetchFullTestCasesUnsupported(t *testing.T) {
	svc, _ := newTestService(t, newFakeJudge(), nil)
	_, err := svc.FetchFullTestCases(context.Background(), problem)
	testutil.AssertCode(t, err, pkgerrors.InvalidParams)
}

func TestRunTests(t *testing.T) {
	svc, eng := newTestService(t, newFakeJudge(), nil)
	var progressed atomic.Int32

	summary, err := svc.RunTests(context.Background(), problem, RunRequest{
		Solution: spec.Invocation{Command: "./a.out"},
		Progress: func(model.Outcome) { progressed.Add(1) },
	})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, summary.String(), "2/3 passed")
	testutil.AssertEqual(t, summary.Message(), "1/3 tests failed.")
	testutil.AssertEqual(t, summary.Outcomes[1].Status, model.StatusWrongAnswer)
	testutil.AssertEqual(t, progressed.Load(), int32(3))

	for _, l := range eng.limits {
		testutil.AssertEqual(t, l.TimeLimit, 1500*time.Millisecond)
		testutil.AssertEqual(t, l.MemoryLimitBytes, int64(0))
	}
}

func TestRunTestsLimitsOverride(t *testing.T) {
	svc, eng := newTestService(t, newFakeJudge(), nil)
	_, err := svc.RunTests(context.Background(), problem, RunRequest{
		Solution:      spec.Invocation{Command: "./a.out"},
		TimeLimit:     3 * time.Second,
		EnforceMemory: true,
	})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, eng.limits[0].TimeLimit, 3*time.Second)
	testutil.AssertEqual(t, eng.limits[0].MemoryLimitBytes, int64(1<<30))
}

func TestSubmitAlreadyAccepted(t *testing.T) {
	judge := newFakeJudge()
	judge.accepted.Store(true)
	svc, _ := newTestService(t, judge, nil)
	ctx := context.Background()

	_, err := svc.Submit(ctx, problem, SubmitRequest{Code: "int main(){}", LanguageID: "5001"})
	testutil.AssertCode(t, err, pkgerrors.AlreadyAccepted)
	testutil.AssertEqual(t, judge.submits.Load(), int32(0))

	sub, err := svc.Submit(ctx, problem, SubmitRequest{Code: "int main(){}", LanguageID: "5001", Force: true})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, sub.ID, "42")
	testutil.AssertFalse(t, sub.SubmittedAt.IsZero(), "submission time is set")

	_, err = svc.Submit(ctx, problem, SubmitRequest{Code: "  ", Force: true})
	testutil.AssertCode(t, err, pkgerrors.SubmitRejected)
}

func TestAwaitVerdict(t *testing.T) {
	judge := newFakeJudge()
	judge.pendingPolls = 2
	svc, _ := newTestService(t, judge, nil)
	sub, err := svc.Submit(context.Background(), problem, SubmitRequest{Code: "x", LanguageID: "1"})
	testutil.MustNoError(t, err)

	var updates []model.Verdict
	final, err := svc.AwaitVerdict(context.Background(), sub, func(s model.Submission) {
		updates = append(updates, s.Verdict)
	})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictAccepted)
	testutil.AssertDeepEqual(t, updates, []model.Verdict{model.VerdictPending, model.VerdictPending, model.VerdictAccepted})
}

func TestAwaitVerdictGivesUp(t *testing.T) {
	judge := newFakeJudge()
	judge.pendingPolls = -1
	svc, _ := newTestService(t, judge, nil)
	svc.pollMaxWait = 20 * time.Millisecond
	svc.pollInterval = 5 * time.Millisecond

	start := time.Now()
	final, err := svc.AwaitVerdict(context.Background(), model.Submission{Judge: model.JudgeAtCoder, ID: "7"}, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictUnknown)
	testutil.AssertTrue(t, time.Since(start) < time.Second, "polling is bounded")
	testutil.AssertTrue(t, judge.polls.Load() >= 1, "judge was polled")
}

func TestAwaitVerdictCanceled(t *testing.T) {
	judge := newFakeJudge()
	judge.pendingPolls = -1
	svc, _ := newTestService(t, judge, nil)
	svc.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	final, err := svc.AwaitVerdict(ctx, model.Submission{Judge: model.JudgeAtCoder, ID: "7"}, nil)
	testutil.AssertCode(t, err, pkgerrors.Canceled)
	testutil.AssertEqual(t, final.Verdict, model.VerdictPending)
}

func TestAwaitVerdictWaitsTheFullMaximum(t *testing.T) {
	judge := newFakeJudge()
	judge.pendingPolls = -1
	svc, _ := newTestService(t, judge, nil)
	svc.pollInterval = 40 * time.Millisecond
	svc.pollMaxWait = 70 * time.Millisecond

	start := time.Now()
	final, err := svc.AwaitVerdict(context.Background(), model.Submission{Judge: model.JudgeAtCoder, ID: "7"}, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictUnknown)
	testutil.AssertTrue(t, time.Since(start) >= svc.pollMaxWait, "gave up before the maximum wait")
	testutil.AssertTrue(t, judge.polls.Load() >= 2, "judge was polled again at the deadline")

	// an interval longer than the maximum wait still polls once more at the deadline
	svc.pollInterval = time.Hour
	svc.pollMaxWait = 30 * time.Millisecond
	before := judge.polls.Load()
	start = time.Now()
	final, err = svc.AwaitVerdict(context.Background(), model.Submission{Judge: model.JudgeAtCoder, ID: "8"}, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictUnknown)
	testutil.AssertTrue(t, time.Since(start) >= svc.pollMaxWait, "gave up before the maximum wait")
	testutil.AssertTrue(t, time.Since(start) < time.Minute, "wait is capped by the maximum")
	testutil.AssertEqual(t, judge.polls.Load()-before, int32(2))
}

func TestSubmitConfirmsRestoredCookies(t *testing.T) {
	judge := &checkingJudge{fakeJudge: newFakeJudge()}
	svc, _ := newTestService(t, judge, nil)
	ctx := context.Background()
	testutil.MustNoError(t, svc.Sessions().ImportCookies(model.JudgeAtCoder, []session.Cookie{{Name: "sid", Value: "saved"}}))

	_, err := svc.Submit(ctx, problem, SubmitRequest{Code: "x", LanguageID: "1"})
	testutil.MustNoError(t, err)
	sess, err := svc.Sessions().Session(model.JudgeAtCoder)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, sess.State(), model.StateLoggedIn)
	testutil.AssertEqual(t, judge.checks.Load(), int32(1))

	_, err = svc.Submit(ctx, problem, SubmitRequest{Code: "x", LanguageID: "1"})
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, judge.checks.Load(), int32(1))
}

func TestEnsureLoggedInWithRejectedCookies(t *testing.T) {
	judge := &checkingJudge{fakeJudge: newFakeJudge(), reject: true}
	svc, _ := newTestService(t, judge, nil)
	ctx := context.Background()
	testutil.MustNoError(t, svc.Sessions().ImportCookies(model.JudgeAtCoder, []session.Cookie{{Name: "sid", Value: "stale"}}))

	testutil.AssertCode(t, svc.EnsureLoggedIn(ctx, model.JudgeAtCoder), pkgerrors.NotLoggedIn)
	testutil.AssertCode(t, svc.EnsureLoggedIn(ctx, model.JudgeCodeforces), pkgerrors.JudgeNotFound)

	testutil.MustNoError(t, svc.Login(ctx, model.JudgeAtCoder, model.Credentials{Username: "u", Password: "secret"}))
	testutil.MustNoError(t, svc.EnsureLoggedIn(ctx, model.JudgeAtCoder))
	testutil.AssertEqual(t, judge.checks.Load(), int32(1))
}

func TestVerdictSharedThroughCache(t *testing.T) {
	rc, mr := newRedisCache(t)
	judge := newFakeJudge()
	svc, _ := newTestService(t, judge, rc)
	sub := model.Submission{Judge: model.JudgeAtCoder, ContestID: "abc300", ProblemID: "abc300_a", ID: "42"}

	final, err := svc.AwaitVerdict(context.Background(), sub, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictAccepted)
	testutil.AssertTrue(t, mr.Exists("ojkit:verdict:atcoder:42"), "verdict is published")
	testutil.AssertFalse(t, mr.Exists("ojkit:poll:lock:atcoder:42"), "poll lock is released")

	other := newFakeJudge()
	svc2, _ := newTestService(t, other, rc)
	got, err := svc2.PollVerdict(context.Background(), sub)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, got.Verdict, model.VerdictAccepted)
	testutil.AssertEqual(t, other.polls.Load(), int32(0))
}

func TestAwaitVerdictWaitsForOtherPoller(t *testing.T) {
	rc, _ := newRedisCache(t)
	judge := newFakeJudge()
	svc, _ := newTestService(t, judge, rc)
	sub := model.Submission{Judge: model.JudgeAtCoder, ID: "43"}

	ok, err := rc.TryLock(context.Background(), "ojkit:poll:lock:atcoder:43", time.Minute)
	testutil.MustNoError(t, err)
	testutil.AssertTrue(t, ok, "lock taken by the other poller")
	time.AfterFunc(20*time.Millisecond, func() {
		done := sub
		done.Verdict = model.VerdictWrongAnswer
		svc.storeVerdict(context.Background(), done)
	})

	final, err := svc.AwaitVerdict(context.Background(), sub, nil)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, final.Verdict, model.VerdictWrongAnswer)
	testutil.AssertEqual(t, judge.polls.Load(), int32(0))
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			defer unlock()
			testutil.AssertEqual(t, inside.Add(1), int32(1))
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	testutil.AssertEqual(t, len(k.locks), 0)
}
