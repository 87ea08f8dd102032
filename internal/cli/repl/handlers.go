package repl

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ojkit/internal/cli/command"
	"ojkit/internal/cli/state"
	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/spec"
	"ojkit/internal/judge/service"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
)

// noContest stands in for an empty contest id, e.g. for yukicoder problems.
const noContest = "-"

func judgeParam(params command.Params) (model.Judge, error) {
	return model.ParseJudge(params.Get("judge"))
}

func contestParam(params command.Params) string {
	c := params.Get("contest")
	if c == noContest {
		return ""
	}
	return c
}

func problemParam(params command.Params) (model.Problem, error) {
	judge, err := judgeParam(params)
	if err != nil {
		return model.Problem{}, err
	}
	id := params.Get("problem")
	if id == "" {
		return model.Problem{}, pkgerrors.ValidationError("problem", "required").WithMessage("missing problem")
	}
	return model.Problem{Judge: judge, ContestID: contestParam(params), ID: id}, nil
}

func invalidParam(field string, err error) error {
	return pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "invalid %s: %v", field, err)
}

func (s *Session) judges() error {
	names := map[model.Judge]string{}
	for _, def := range adapter.Definitions() {
		names[def.Judge] = def.Name
	}
	rows := [][]string{}
	for _, judge := range s.svc.Judges() {
		a, err := s.svc.Adapter(judge)
		if err != nil {
			continue
		}
		st := "-"
		if sess, err := s.svc.Sessions().Session(judge); err == nil {
			st = sess.State().String()
		}
		name := names[judge]
		if name == "" {
			name = string(judge)
		}
		rows = append(rows, []string{string(judge), name, a.BaseURL(), a.MinInterval().String(), st})
	}
	writeTable(s.out, []string{"JUDGE", "NAME", "URL", "INTERVAL", "SESSION"}, rows)
	return nil
}

func (s *Session) login(ctx context.Context, params command.Params) error {
	judge, err := judgeParam(params)
	if err != nil {
		return err
	}
	creds := s.cfg.Credentials(judge)
	if v := params.Get("username"); v != "" {
		creds.Username = v
	}
	if v := params.Get("password"); v != "" {
		creds.Password = v
	}
	if v := params.Get("api_key"); v != "" {
		creds.APIKey = v
	}

	if judge == model.JudgeYukicoder {
		if creds.APIKey == "" {
			if creds.APIKey, err = s.ask("api key", true); err != nil {
				return err
			}
		}
	} else {
		if creds.Username == "" {
			if creds.Username, err = s.ask("username", false); err != nil {
				return err
			}
		}
		if creds.Password == "" {
			if creds.Password, err = s.ask("password", true); err != nil {
				return err
			}
		}
	}

	if err := s.svc.Login(ctx, judge, creds); err != nil {
		return err
	}
	if creds.Username != "" {
		s.printLine("logged in to %s as %s", judge, creds.Username)
	} else {
		s.printLine("logged in to %s", judge)
	}
	s.SaveCookies(ctx)
	return nil
}

func (s *Session) ask(label string, secret bool) (string, error) {
	if s.prompter == nil {
		return "", pkgerrors.New(pkgerrors.CredentialsMissing).WithMessagef("%s is required", label)
	}
	v, err := s.prompter.Prompt(label, secret)
	return strings.TrimSpace(v), err
}

func (s *Session) logout(ctx context.Context, params command.Params) error {
	judge, err := judgeParam(params)
	if err != nil {
		return err
	}
	s.svc.Logout(ctx, judge)
	delete(s.cookies.Judges, string(judge))
	if s.cfg.State.PersistCookies {
		if err := state.Save(s.cfg.State.Path, s.cookies); err != nil {
			return pkgerrors.Wrap(err, pkgerrors.InternalError)
		}
	}
	s.printLine("logged out of %s", judge)
	return nil
}

// RestoreCookies loads saved cookies into the judge sessions when persistence is enabled.
func (s *Session) RestoreCookies(ctx context.Context) {
	if !s.cfg.State.PersistCookies {
		return
	}
	for _, judge := range s.svc.Judges() {
		cookies := s.cookies.Judges[string(judge)]
		if len(cookies) == 0 {
			continue
		}
		if err := s.svc.Sessions().ImportCookies(judge, cookies); err != nil {
			logger.Warn(ctx, "restore cookies failed", append(logger.ErrorFields(err), zap.String("judge", string(judge)))...)
			continue
		}
		err := s.svc.EnsureLoggedIn(ctx, judge)
		switch {
		case err == nil:
			logger.Info(ctx, "restored session", zap.String("judge", string(judge)))
		case pkgerrors.Is(err, pkgerrors.NotLoggedIn):
			logger.Info(ctx, "saved cookies are no longer valid", zap.String("judge", string(judge)))
		default:
			logger.Warn(ctx, "confirm restored session failed", append(logger.ErrorFields(err), zap.String("judge", string(judge)))...)
		}
	}
}

// SaveCookies writes the cookies of every session when persistence is enabled.
func (s *Session) SaveCookies(ctx context.Context) {
	if !s.cfg.State.PersistCookies {
		return
	}
	for _, judge := range s.svc.Judges() {
		sess, err := s.svc.Sessions().Session(judge)
		if err != nil || sess.State() != model.StateLoggedIn {
			continue
		}
		cookies, err := s.svc.Sessions().ExportCookies(judge)
		if err != nil {
			continue
		}
		s.cookies.Judges[string(judge)] = cookies
	}
	if err := state.Save(s.cfg.State.Path, s.cookies); err != nil {
		logger.Warn(ctx, "save cookies failed", zap.Error(err))
	}
}

func (s *Session) problems(ctx context.Context, params command.Params) error {
	judge, err := judgeParam(params)
	if err != nil {
		return err
	}
	contest, err := s.svc.FetchContest(ctx, judge, contestParam(params))
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(contest.Problems))
	for _, p := range contest.Problems {
		rows = append(rows, []string{p.Index, p.ID, p.Name, formatLimit(p.TimeLimit), formatMemory(p.MemoryLimitBytes)})
	}
	writeTable(s.out, []string{"INDEX", "ID", "NAME", "TIME", "MEMORY"}, rows)
	return nil
}

func (s *Session) fetch(ctx context.Context, params command.Params) error {
	problem, err := problemParam(params)
	if err != nil {
		return err
	}
	full, err := params.Bool("full")
	if err != nil {
		return invalidParam("full", err)
	}
	refresh, err := params.Bool("refresh")
	if err != nil {
		return invalidParam("refresh", err)
	}

	var cases []model.TestCase
	if full {
		cases, err = s.svc.FetchFullTestCases(ctx, problem)
	} else {
		cases, err = s.svc.FetchTestCases(ctx, problem, refresh)
	}
	if err != nil {
		return err
	}
	s.printLine("%s: %d test cases", problem.Key(), len(cases))
	return nil
}

func (s *Session) test(ctx context.Context, params command.Params) error {
	problem, err := problemParam(params)
	if err != nil {
		return err
	}
	dir := params.Get("dir")
	req := service.RunRequest{Solution: spec.Invocation{Command: params.Get("cmd"), Dir: dir}}
	if c := params.Get("compile"); c != "" {
		req.Compile = &spec.Invocation{Command: c, Dir: dir}
	}
	if req.TimeLimit, err = params.Duration("tl"); err != nil {
		return invalidParam("tl", err)
	}
	if req.EnforceMemory, err = params.Bool("mle"); err != nil {
		return invalidParam("mle", err)
	}
	if req.Refresh, err = params.Bool("refresh"); err != nil {
		return invalidParam("refresh", err)
	}
	if m := params.Get("compare"); m != "" {
		mode := model.CompareMode(strings.ToLower(m))
		if !mode.Valid() {
			return pkgerrors.ValidationError("compare", "unknown mode").
				WithMessagef("unknown compare mode %q, use exact, whitespace or float", m)
		}
		req.Compare = &model.CompareSpec{Mode: mode}
	}
	req.Progress = func(o model.Outcome) {
		s.printLine("%-4s %-24s %s", o.Status.Short(), o.Name, formatElapsed(o.Elapsed))
	}

	summary, err := s.svc.RunTests(ctx, problem, req)
	for _, o := range summary.Outcomes {
		if !o.Passed() {
			s.printFailure(o)
		}
	}
	if err != nil {
		if len(summary.Outcomes) > 0 {
			s.printLine("%s", summary)
		}
		return err
	}
	s.printLine("%s", summary.Message())
	if !summary.AllPassed() {
		return pkgerrors.New(pkgerrors.TestsFailed).WithMessage(summary.String()).
			WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	return nil
}

func (s *Session) printFailure(o model.Outcome) {
	header := fmt.Sprintf("--- %s: %s", o.Name, o.Status)
	switch {
	case o.Signal != "":
		header += " (" + o.Signal + ")"
	case o.Status == model.StatusRuntimeError:
		header += " (exit " + strconv.Itoa(o.ExitCode) + ")"
	}
	if o.MemoryLimited {
		header += " memory limit reached"
	}
	s.printLine("%s", header)
	if o.Err != "" {
		s.printLine("error: %s", o.Err)
	}
	if o.Diff != "" {
		s.printLine("%s", o.Diff)
	}
	if stderr := strings.TrimRight(o.Stderr, "\n"); stderr != "" {
		s.printLine("stderr:\n%s", stderr)
	}
}

func (s *Session) submit(ctx context.Context, params command.Params) error {
	problem, err := problemParam(params)
	if err != nil {
		return err
	}
	code, err := command.ReadFile(params.Get("file"))
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.InvalidParams)
	}
	lang := params.Get("lang")
	if lang == "" {
		lang = s.cfg.Judge(problem.Judge).Language
	}
	force, err := params.Bool("force")
	if err != nil {
		return invalidParam("force", err)
	}
	wait := true
	if params.Has("wait") {
		if wait, err = params.Bool("wait"); err != nil {
			return invalidParam("wait", err)
		}
	}

	sub, err := s.svc.Submit(ctx, problem, service.SubmitRequest{Code: code, LanguageID: lang, Force: force})
	if err != nil {
		return err
	}
	s.printLine("submitted %s %s", sub.ID, sub.URL)
	if !wait {
		return nil
	}
	return s.await(ctx, sub)
}

func (s *Session) status(ctx context.Context, params command.Params) error {
	judge, err := judgeParam(params)
	if err != nil {
		return err
	}
	wait, err := params.Bool("wait")
	if err != nil {
		return invalidParam("wait", err)
	}
	sub := model.Submission{
		Judge:     judge,
		ContestID: contestParam(params),
		ProblemID: params.Get("problem"),
		ID:        params.Get("id"),
	}
	if wait {
		return s.await(ctx, sub)
	}
	sub, err = s.svc.PollVerdict(ctx, sub)
	if err != nil {
		return err
	}
	s.printVerdict(sub)
	return nil
}

func (s *Session) await(ctx context.Context, sub model.Submission) error {
	last := sub
	final, err := s.svc.AwaitVerdict(ctx, sub, func(u model.Submission) {
		if u.Verdict == last.Verdict && u.Detail == last.Detail {
			return
		}
		last = u
		if !u.Verdict.IsTerminal() {
			s.printLine("  %s %s", u.Verdict.Short(), u.Detail)
		}
	})
	if err != nil {
		return err
	}
	s.printVerdict(final)
	return nil
}

func (s *Session) printVerdict(sub model.Submission) {
	line := fmt.Sprintf("%s %s %s", sub.ID, sub.Verdict.Short(), sub.Verdict)
	if sub.Detail != "" {
		line += " " + sub.Detail
	}
	if sub.URL != "" {
		line += " " + sub.URL
	}
	s.printLine("%s", line)
}

func (s *Session) cache(ctx context.Context, params command.Params) error {
	store := s.svc.Store()
	switch action := strings.ToLower(params.Get("action")); action {
	case "list", "ls":
		return s.listCache(params)
	case "import":
		key, err := s.cacheKey(params)
		if err != nil {
			return err
		}
		f, size, err := openArchive(params.Get("file"))
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := store.ImportArchive(key, f, size)
		if err != nil {
			return err
		}
		s.printLine("%s: imported %d test cases", key, n)
	case "export":
		path, err := requireFile(params)
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.StoreWriteError, "create snapshot failed: %v", err)
		}
		n, err := store.ExportSnapshot(f)
		if cerr := f.Close(); err == nil && cerr != nil {
			err = pkgerrors.Wrap(cerr, pkgerrors.StoreWriteError)
		}
		if err != nil {
			_ = os.Remove(path)
			return err
		}
		s.printLine("exported %d entries to %s", n, path)
	case "restore":
		path, err := requireFile(params)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "open snapshot failed: %v", err)
		}
		defer f.Close()
		n, err := store.ImportSnapshot(f)
		if err != nil {
			return err
		}
		s.printLine("restored %d entries from %s", n, path)
	case "clear", "rm":
		key, err := s.cacheKey(params)
		if err != nil {
			return err
		}
		if err := store.Invalidate(key); err != nil {
			return err
		}
		s.printLine("%s: removed", key)
	default:
		return pkgerrors.Newf(pkgerrors.InvalidParams, "unknown cache action %q, use list, import, export, restore or clear", action)
	}
	logger.Debug(ctx, "cache command done", zap.String("action", params.Get("action")))
	return nil
}

func (s *Session) cacheKey(params command.Params) (model.Key, error) {
	problem, err := problemParam(params)
	if err != nil {
		return model.Key{}, err
	}
	return problem.Key(), nil
}

func requireFile(params command.Params) (string, error) {
	path := params.Get("file")
	if path == "" {
		return "", pkgerrors.ValidationError("file", "required").WithMessage("missing file")
	}
	return path, nil
}

func openArchive(path string) (*os.File, int64, error) {
	if path == "" {
		return nil, 0, pkgerrors.ValidationError("file", "required").WithMessage("missing file")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "open archive failed: %v", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, pkgerrors.Wrap(err, pkgerrors.InvalidParams)
	}
	return f, st.Size(), nil
}

func (s *Session) listCache(params command.Params) error {
	var judge model.Judge
	if params.Get("judge") != "" {
		j, err := judgeParam(params)
		if err != nil {
			return err
		}
		judge = j
	}
	store := s.svc.Store()
	keys, err := store.Keys(judge)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		meta, err := store.Meta(key)
		if err != nil {
			rows = append(rows, []string{key.String(), "corrupt", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			key.String(),
			string(meta.Source),
			strconv.Itoa(len(meta.CaseNames)),
			formatLimit(meta.TimeLimit),
			meta.StoredAt.Local().Format("2006-01-02 15:04"),
		})
	}
	writeTable(s.out, []string{"PROBLEM", "SOURCE", "CASES", "TIME", "STORED"}, rows)
	return nil
}

func formatLimit(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.String()
}

func formatMemory(b int64) string {
	if b <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d MiB", b>>20)
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
