// Package atcoder implements the adapter for AtCoder (atcoder.jp).
package atcoder

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultBaseURL     = "https://atcoder.jp"
	DefaultMinInterval = 500 * time.Millisecond
)

func init() {
	adapter.Register(adapter.Definition{
		Judge:              model.JudgeAtCoder,
		Name:               "AtCoder",
		DefaultBaseURL:     DefaultBaseURL,
		DefaultMinInterval: DefaultMinInterval,
		Build: func(opts adapter.Options) (adapter.Adapter, error) {
			return New(opts), nil
		},
	})
}

var (
	sampleInputRe  = regexp.MustCompile(`^(?:Sample Input|入力例)\s*(\d+)`)
	sampleOutputRe = regexp.MustCompile(`^(?:Sample Output|出力例)\s*(\d+)`)
	limitsRe       = regexp.MustCompile(`(?:Time Limit|実行時間制限):\s*([^/]+)/\s*(?:Memory Limit|メモリ制限):\s*(\S+\s*\S+)`)
	submissionIDRe = regexp.MustCompile(`/submissions/(\d+)$`)
)

// Adapter talks to AtCoder.
type Adapter struct {
	adapter.Base
}

// New creates an AtCoder adapter.
func New(opts adapter.Options) *Adapter {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &Adapter{Base: adapter.NewBase(model.JudgeAtCoder, base, interval)}
}

func (a *Adapter) scraper(phase string) adapter.Scraper {
	return adapter.Scraper{Judge: string(model.JudgeAtCoder), Phase: phase}
}

// Authenticate posts the login form with the CSRF token from the login page.
func (a *Adapter) Authenticate(ctx context.Context, s *session.Session, creds model.Credentials) error {
	sc := a.scraper("login")
	resp, err := s.Send(ctx, session.Get("/login"))
	if err != nil {
		return err
	}
	if resp.IsRedirect() {
		// Already logged in, AtCoder sends /login to /home.
		return nil
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	doc, err := resp.Document()
	if err != nil {
		return err
	}
	token, ok := adapter.HiddenInput(doc, "csrf_token")
	if !ok {
		return sc.Missing(`input[name="csrf_token"]`)
	}
	s.SetCSRFToken(token)

	resp, err = s.Send(ctx, session.PostForm("/login", url.Values{
		"username":   {creds.Username},
		"password":   {creds.Password},
		"csrf_token": {token},
	}))
	if err != nil {
		return err
	}
	if resp.IsRedirect() {
		if loc := resp.Location(); loc != nil && loc.Path != "/login" {
			return nil
		}
	} else if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.InvalidCredentials).WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder))
}

// IsSessionValid treats a redirect to the login page as a lost session.
func (a *Adapter) IsSessionValid(resp *session.Response) bool {
	if !resp.IsRedirect() {
		return true
	}
	loc := resp.Location()
	return loc == nil || loc.Path != "/login"
}

// DetectChallenge looks for the widgets AtCoder embeds when it wants a human.
func (a *Adapter) DetectChallenge(resp *session.Response) string {
	return adapter.DetectChallenge(resp)
}

// Probe checks imported cookies against a page that requires login.
func (a *Adapter) Probe(ctx context.Context, s *session.Session) error {
	resp, err := s.Send(ctx, session.Get("/settings"))
	if err != nil {
		return err
	}
	if !a.IsSessionValid(resp) {
		return pkgerrors.New(pkgerrors.NotLoggedIn).WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder))
	}
	return resp.ExpectStatus(http.StatusOK)
}

func contestPath(contestID string, parts ...string) string {
	return "/" + path.Join(append([]string{"contests", url.PathEscape(contestID)}, parts...)...)
}

// ListProblems reads the task table of a contest.
func (a *Adapter) ListProblems(ctx context.Context, s *session.Session, contestID string) ([]model.Problem, error) {
	sc := a.scraper("list_problems")
	resp, err := s.Do(ctx, session.Get(contestPath(contestID, "tasks")))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.Newf(pkgerrors.ContestNotFound, "contest %s not found", contestID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder)).
			WithDetail(pkgerrors.DetailContest, contestID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return nil, err
	}
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}

	tbody, err := sc.Require(doc, adapter.ByTag(atom.Tbody), "tasks table")
	if err != nil {
		return nil, err
	}
	rows := adapter.Children(tbody, adapter.ByTag(atom.Tr))
	if len(rows) == 0 {
		return nil, sc.Missing("tasks table rows")
	}

	problems := make([]model.Problem, 0, len(rows))
	for _, row := range rows {
		cells := adapter.Children(row, adapter.ByTag(atom.Td))
		if len(cells) < 2 {
			return nil, sc.Missing("tasks table cells")
		}
		link := adapter.Find(cells[0], adapter.ByTag(atom.A))
		href := adapter.Attr(link, "href")
		if href == "" {
			return nil, sc.Missing("task link")
		}
		p := model.Problem{
			Judge:     model.JudgeAtCoder,
			ContestID: contestID,
			ID:        path.Base(href),
			Index:     adapter.TrimmedText(cells[0]),
			Name:      adapter.TrimmedText(cells[1]),
			URL:       s.URL(href),
		}
		if len(cells) >= 4 {
			p.TimeLimit, _ = adapter.ParseTimeLimit(adapter.Text(cells[2]))
			p.MemoryLimitBytes, _ = adapter.ParseMemoryLimit(adapter.Text(cells[3]))
		}
		problems = append(problems, p)
	}
	return problems, nil
}

// FetchProblem reads limits and samples from the task page.
func (a *Adapter) FetchProblem(ctx context.Context, s *session.Session, problem model.Problem) (model.Problem, error) {
	sc := a.scraper("fetch_test_cases")
	resp, err := s.Do(ctx, session.Get(contestPath(problem.ContestID, "tasks", url.PathEscape(problem.ID))))
	if err != nil {
		return problem, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return problem, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", problem.ID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder)).
			WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return problem, err
	}
	doc, err := resp.Document()
	if err != nil {
		return problem, err
	}

	statement, err := sc.Require(doc, adapter.ByID("task-statement"), "#task-statement")
	if err != nil {
		return problem, err
	}

	if m := limitsRe.FindStringSubmatch(adapter.Text(doc)); m != nil {
		if tl, ok := adapter.ParseTimeLimit(m[1]); ok {
			problem.TimeLimit = tl
		}
		if ml, ok := adapter.ParseMemoryLimit(m[2]); ok {
			problem.MemoryLimitBytes = ml
		}
	} else {
		logger.Debug(ctx, "atcoder limits not found on task page", zap.String("problem", problem.ID))
	}
	if title := adapter.Find(doc, adapter.ByClass("h2")); title != nil && problem.Name == "" {
		problem.Name = strings.TrimSpace(strings.TrimPrefix(adapter.TrimmedText(title), problem.Index+" -"))
	}
	problem.URL = resp.URL.String()

	cases, err := parseSamples(sc, statement)
	if err != nil {
		return problem, pkgerrors.GetError(err).WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	problem.TestCases = cases
	return problem, nil
}

// FetchTestCases returns the samples of problem.
func (a *Adapter) FetchTestCases(ctx context.Context, s *session.Session, problem model.Problem) ([]model.TestCase, error) {
	p, err := a.FetchProblem(ctx, s, problem)
	if err != nil {
		return nil, err
	}
	return p.TestCases, nil
}

// parseSamples pairs "Sample Input N" and "Sample Output N" sections. The English statement is
// preferred when present because the Japanese one repeats the same samples.
func parseSamples(sc adapter.Scraper, statement *html.Node) ([]model.TestCase, error) {
	root := statement
	if en := adapter.Find(statement, adapter.ByClass("lang-en")); en != nil {
		root = en
	} else if ja := adapter.Find(statement, adapter.ByClass("lang-ja")); ja != nil {
		root = ja
	}

	inputs := map[int][]byte{}
	outputs := map[int][]byte{}
	var order []int
	for _, h := range adapter.FindAll(root, adapter.ByTag(atom.H3)) {
		title := adapter.TrimmedText(h)
		var m []string
		isInput := false
		if m = sampleInputRe.FindStringSubmatch(title); m != nil {
			isInput = true
		} else if m = sampleOutputRe.FindStringSubmatch(title); m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pre := followingPre(h)
		if pre == nil {
			return nil, sc.Missing("pre after " + title)
		}
		sample := adapter.NormalizeSample(adapter.Text(pre))
		if isInput {
			order = append(order, n)
			inputs[n] = sample
		} else {
			outputs[n] = sample
		}
	}
	if len(order) == 0 {
		return nil, sc.Missing("Sample Input headings")
	}

	cases := make([]model.TestCase, 0, len(order))
	for _, n := range order {
		out, ok := outputs[n]
		if !ok {
			return nil, sc.Missing("Sample Output " + strconv.Itoa(n))
		}
		cases = append(cases, model.TestCase{
			Name:     "sample-" + strconv.Itoa(n),
			Input:    inputs[n],
			Expected: out,
		})
	}
	return cases, nil
}

func followingPre(h *html.Node) *html.Node {
	for n := adapter.NextElement(h); n != nil; n = adapter.NextElement(n) {
		if n.DataAtom == atom.Pre {
			return n
		}
		if n.DataAtom == atom.H3 {
			return nil
		}
		if pre := adapter.Find(n, adapter.ByTag(atom.Pre)); pre != nil {
			return pre
		}
	}
	return nil
}
