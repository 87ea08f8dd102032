package repl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ojkit/internal/cli/command"
	"ojkit/internal/cli/config"
	"ojkit/internal/cli/state"
	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/result"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/internal/judge/sandbox/spec"
	"ojkit/internal/judge/service"
	"ojkit/internal/judge/session"
	"ojkit/internal/judge/testcase"
	"ojkit/internal/testutil"
	pkgerrors "ojkit/pkg/errors"

	"github.com/klauspost/compress/zip"
)

type memJudge struct {
	adapter.Base
	cases    []model.TestCase
	checks   int
	checkErr error
}

func newMemJudge() *memJudge {
	return &memJudge{
		Base: adapter.NewBase(model.JudgeAtCoder, "https://judge.invalid", 0),
		cases: []model.TestCase{
			{Name: "sample-1", Input: []byte("1\n"), Expected: []byte("1\n")},
			{Name: "sample-2", Input: []byte("2\n"), Expected: []byte("2\n")},
		},
	}
}

func (m *memJudge) Authenticate(_ context.Context, _ *session.Session, creds model.Credentials) error {
	if creds.Password != "secret" {
		return pkgerrors.New(pkgerrors.InvalidCredentials)
	}
	return nil
}

func (m *memJudge) IsSessionValid(*session.Response) bool { return true }

func (m *memJudge) Probe(context.Context, *session.Session) error {
	m.checks++
	return m.checkErr
}

func (m *memJudge) ListProblems(_ context.Context, _ *session.Session, contestID string) ([]model.Problem, error) {
	return []model.Problem{{
		Judge: model.JudgeAtCoder, ContestID: contestID, ID: contestID + "_a", Index: "A",
		Name: "足し算", TimeLimit: 2 * time.Second, MemoryLimitBytes: 1 << 30,
	}}, nil
}

func (m *memJudge) FetchProblem(_ context.Context, _ *session.Session, p model.Problem) (model.Problem, error) {
	p.TimeLimit = time.Second
	p.TestCases = m.cases
	return p, nil
}

func (m *memJudge) FetchTestCases(ctx context.Context, s *session.Session, p model.Problem) ([]model.TestCase, error) {
	full, err := m.FetchProblem(ctx, s, p)
	return full.TestCases, err
}

func (m *memJudge) Submit(_ context.Context, _ *session.Session, p model.Problem, code, lang string) (model.Submission, error) {
	return model.Submission{Judge: p.Judge, ContestID: p.ContestID, ProblemID: p.ID, ID: "7", Language: lang, Code: code, Verdict: model.VerdictPending}, nil
}

func (m *memJudge) PollVerdict(_ context.Context, _ *session.Session, sub model.Submission) (model.Submission, error) {
	sub.Verdict = model.VerdictAccepted
	sub.Detail = "12ms"
	return sub, nil
}

// echoEngine prints its input, so a case passes when its expected output equals its input.
type echoEngine struct{}

func (echoEngine) Exec(_ context.Context, rs spec.RunSpec) (result.ExecResult, error) {
	return result.ExecResult{Stdout: rs.Stdin, Elapsed: time.Millisecond}, nil
}

type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) Prompt(label string, secret bool) (string, error) {
	if secret {
		label += " (secret)"
	}
	p.asked = append(p.asked, label)
	if len(p.answers) == 0 {
		return "", nil
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func newTestSession(t *testing.T, judge *memJudge, prompter Prompter) (*Session, *bytes.Buffer, config.Config) {
	t.Helper()
	store, err := testcase.New(t.TempDir())
	testutil.MustNoError(t, err)
	svc, err := service.New(service.Config{
		Adapters:     []adapter.Adapter{judge},
		Sessions:     testutil.FastSessionOptions(),
		Store:        store,
		Runner:       runner.New(runner.Config{Jobs: 2}, echoEngine{}, nil),
		PollInterval: time.Millisecond,
		PollMaxWait:  time.Second,
	})
	testutil.MustNoError(t, err)

	cfg := config.Config{
		State:  config.StateConfig{PersistCookies: true, Path: filepath.Join(t.TempDir(), "cookies.json")},
		Judges: map[string]config.JudgeConfig{"atcoder": {Language: "5001"}},
	}
	out := &bytes.Buffer{}
	return New(svc, cfg, command.Registry(), state.CookieState{}, out, prompter), out, cfg
}

func exec(t *testing.T, s *Session, line string) error {
	t.Helper()
	return s.Exec(context.Background(), strings.Fields(line))
}

func TestExecUnknownAndInvalid(t *testing.T) {
	s, _, _ := newTestSession(t, newMemJudge(), nil)

	testutil.AssertCode(t, exec(t, s, "frobnicate"), pkgerrors.InvalidParams)
	testutil.AssertCode(t, exec(t, s, "logout atcoder extra"), pkgerrors.InvalidParams)
	testutil.AssertCode(t, exec(t, s, "fetch atcoder abc300"), pkgerrors.ValidationFailed)
	testutil.AssertCode(t, exec(t, s, "fetch nojudge abc300 a"), pkgerrors.JudgeNotFound)
	testutil.AssertTrue(t, exec(t, s, "exit") == ErrExit, "exit returns ErrExit")
	testutil.AssertTrue(t, exec(t, s, "quit") == ErrExit, "quit is an alias of exit")
}

func TestHelpAndJudges(t *testing.T) {
	s, out, _ := newTestSession(t, newMemJudge(), nil)
	testutil.MustNoError(t, exec(t, s, "help"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "fetch <judge> <contest> <problem>"), out.String())
	testutil.AssertTrue(t, strings.Contains(out.String(), "judges: atcoder"), out.String())

	out.Reset()
	testutil.MustNoError(t, exec(t, s, "judges"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "LoggedOut"), out.String())
}

func TestLoginPromptsAndSavesCookies(t *testing.T) {
	prompter := &scriptedPrompter{answers: []string{"alice", "secret"}}
	s, out, cfg := newTestSession(t, newMemJudge(), prompter)
	t.Setenv("OJKIT_ATCODER_USERNAME", "")
	t.Setenv("OJKIT_ATCODER_PASSWORD", "")

	testutil.MustNoError(t, exec(t, s, "login atcoder"))
	testutil.AssertDeepEqual(t, prompter.asked, []string{"username", "password (secret)"})
	testutil.AssertTrue(t, strings.Contains(out.String(), "logged in to atcoder as alice"), out.String())

	_, err := os.Stat(cfg.State.Path)
	testutil.MustNoError(t, err)

	testutil.MustNoError(t, exec(t, s, "logout atcoder"))
	st, err := state.Load(cfg.State.Path)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, len(st.Judges), 0)
}

func TestRestoreCookiesConfirmsSessions(t *testing.T) {
	judge := newMemJudge()
	s, out, cfg := newTestSession(t, judge, nil)
	ctx := context.Background()
	s.cookies.Judges["atcoder"] = []session.Cookie{{Name: "sid", Value: "saved"}}

	s.RestoreCookies(ctx)
	testutil.AssertEqual(t, judge.checks, 1)
	sess, err := s.svc.Sessions().Session(model.JudgeAtCoder)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, sess.State(), model.StateLoggedIn)

	testutil.MustNoError(t, exec(t, s, "judges"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "LoggedIn"), out.String())

	s.SaveCookies(ctx)
	st, err := state.Load(cfg.State.Path)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, len(st.Judges["atcoder"]), 1)
}

func TestRestoreCookiesRejected(t *testing.T) {
	judge := newMemJudge()
	judge.checkErr = pkgerrors.New(pkgerrors.NotLoggedIn)
	s, _, _ := newTestSession(t, judge, nil)
	s.cookies.Judges["atcoder"] = []session.Cookie{{Name: "sid", Value: "stale"}}

	s.RestoreCookies(context.Background())
	testutil.AssertEqual(t, judge.checks, 1)
	sess, err := s.svc.Sessions().Session(model.JudgeAtCoder)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, sess.State(), model.StateLoggedOut)
}

func TestLoginWrongPassword(t *testing.T) {
	s, _, _ := newTestSession(t, newMemJudge(), nil)
	err := exec(t, s, "login atcoder username=alice password=nope")
	testutil.AssertCode(t, err, pkgerrors.InvalidCredentials)
}

func TestProblemsTable(t *testing.T) {
	s, out, _ := newTestSession(t, newMemJudge(), nil)
	testutil.MustNoError(t, exec(t, s, "problems atcoder abc300"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	testutil.AssertEqual(t, len(lines), 2)
	testutil.AssertTrue(t, strings.HasPrefix(lines[1], "A      abc300_a  足し算  2s    1024 MiB"), lines[1])
}

func TestFetchAndTest(t *testing.T) {
	judge := newMemJudge()
	s, out, _ := newTestSession(t, judge, nil)

	testutil.MustNoError(t, exec(t, s, "fetch atcoder abc300 abc300_a"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "atcoder/abc300/abc300_a: 2 test cases"), out.String())

	out.Reset()
	testutil.MustNoError(t, s.Exec(context.Background(), []string{"test", "atcoder", "abc300", "abc300_a", "cmd=./a.out"}))
	testutil.AssertTrue(t, strings.Contains(out.String(), "All of the 2 tests passed."), out.String())

	judge.cases[1].Expected = []byte("3\n")
	out.Reset()
	err := s.Exec(context.Background(), []string{"test", "atcoder", "abc300", "abc300_a", "cmd=./a.out", "refresh=true"})
	testutil.AssertCode(t, err, pkgerrors.TestsFailed)
	testutil.AssertTrue(t, strings.Contains(out.String(), "--- sample-2: WrongAnswer"), out.String())
	testutil.AssertTrue(t, strings.Contains(out.String(), "1/2 tests failed."), out.String())

	err = s.Exec(context.Background(), []string{"test", "atcoder", "abc300", "abc300_a", "cmd=./a.out", "compare=fuzzy"})
	testutil.AssertCode(t, err, pkgerrors.ValidationFailed)
	err = s.Exec(context.Background(), []string{"test", "atcoder", "abc300", "abc300_a", "cmd=./a.out", "tl=soon"})
	testutil.AssertCode(t, err, pkgerrors.InvalidParams)
}

func TestSubmitAndStatus(t *testing.T) {
	s, out, _ := newTestSession(t, newMemJudge(), nil)
	src := filepath.Join(t.TempDir(), "main.cpp")
	testutil.MustNoError(t, os.WriteFile(src, []byte("int main() {}\n"), 0o644))

	testutil.MustNoError(t, exec(t, s, "submit atcoder abc300 abc300_a file="+src))
	testutil.AssertTrue(t, strings.Contains(out.String(), "submitted 7"), out.String())
	testutil.AssertTrue(t, strings.Contains(out.String(), "7 AC Accepted 12ms"), out.String())

	out.Reset()
	testutil.MustNoError(t, exec(t, s, "status atcoder abc300 7"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "7 AC Accepted"), out.String())

	testutil.AssertCode(t, exec(t, s, "submit atcoder abc300 abc300_a file=/does/not/exist"), pkgerrors.InvalidParams)
}

func TestCacheCommands(t *testing.T) {
	s, out, _ := newTestSession(t, newMemJudge(), nil)
	dir := t.TempDir()

	archive := filepath.Join(dir, "cases.zip")
	f, err := os.Create(archive)
	testutil.MustNoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{"in/1.txt": "1\n", "out/1.txt": "1\n", "in/2.txt": "5\n", "out/2.txt": "5\n"} {
		w, err := zw.Create(name)
		testutil.MustNoError(t, err)
		_, err = w.Write([]byte(body))
		testutil.MustNoError(t, err)
	}
	testutil.MustNoError(t, zw.Close())
	testutil.MustNoError(t, f.Close())

	testutil.MustNoError(t, exec(t, s, "cache import atcoder abc301 abc301_b file="+archive))
	testutil.AssertTrue(t, strings.Contains(out.String(), "imported 2 test cases"), out.String())

	out.Reset()
	testutil.MustNoError(t, exec(t, s, "cache list atcoder"))
	testutil.AssertTrue(t, strings.Contains(out.String(), "atcoder/abc301/abc301_b  archive"), out.String())

	snapshot := filepath.Join(dir, "store.tar.zst")
	testutil.MustNoError(t, exec(t, s, "cache export file="+snapshot))
	testutil.MustNoError(t, exec(t, s, "cache clear atcoder abc301 abc301_b"))

	out.Reset()
	testutil.MustNoError(t, exec(t, s, "cache list"))
	testutil.AssertFalse(t, strings.Contains(out.String(), "abc301_b"), out.String())

	testutil.MustNoError(t, exec(t, s, "cache restore file="+snapshot))
	testutil.AssertTrue(t, strings.Contains(out.String(), "restored 1 entries"), out.String())

	testutil.AssertCode(t, exec(t, s, "cache shred"), pkgerrors.InvalidParams)
}

func TestWriteTable(t *testing.T) {
	var b bytes.Buffer
	writeTable(&b, []string{"ID", "NAME", "X"}, [][]string{{"a", "あいう", "1"}, {"bb", "abc", "2"}})
	want := "ID  NAME    X\n" +
		"a   あいう  1\n" +
		"bb  abc     2\n"
	testutil.AssertEqual(t, b.String(), want)

	testutil.AssertEqual(t, displayWidth("あa"), 3)
	testutil.AssertEqual(t, displayWidth("ＡＢ"), 4)
}

func TestLinePrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewLinePrompter(strings.NewReader("alice\r\nlast"), &out)
	v, err := p.Prompt("username", false)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, v, "alice")
	v, err = p.Prompt("password", true)
	testutil.MustNoError(t, err)
	testutil.AssertEqual(t, v, "last")
	testutil.AssertEqual(t, out.String(), "username: password: ")
	_, err = p.Prompt("again", false)
	testutil.AssertTrue(t, err != nil, "expected EOF error")
}
