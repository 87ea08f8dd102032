package codeforces

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func problemPath(p model.Problem) string {
	return "/contest/" + url.PathEscape(p.ContestID) + "/problem/" + url.PathEscape(problemIndex(p))
}

// FetchProblem reads the statement page. Codeforces redirects unknown problems to the contest
// page instead of answering 404.
func (a *Adapter) FetchProblem(ctx context.Context, s *session.Session, problem model.Problem) (model.Problem, error) {
	sc := a.scraper("fetch_test_cases")
	resp, err := s.Do(ctx, session.Get(problemPath(problem)))
	if err != nil {
		return problem, err
	}
	if resp.IsRedirect() || resp.StatusCode == http.StatusNotFound {
		return problem, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", problem.ID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces)).
			WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return problem, err
	}
	doc, err := resp.Document()
	if err != nil {
		return problem, err
	}
	statement, err := sc.Require(doc, adapter.ByClass("problem-statement"), "div.problem-statement")
	if err != nil {
		return problem, err
	}

	if problem.Index == "" {
		problem.Index = problemIndex(problem)
	}
	if title := adapter.Find(statement, adapter.ByClass("title")); title != nil && problem.Name == "" {
		name := adapter.TrimmedText(title)
		problem.Name = strings.TrimSpace(strings.TrimPrefix(name, problem.Index+"."))
	}
	if tl := adapter.Find(statement, adapter.ByClass("time-limit")); tl != nil {
		if d, ok := adapter.ParseTimeLimit(adapter.Text(tl)); ok {
			problem.TimeLimit = d
		}
	}
	if ml := adapter.Find(statement, adapter.ByClass("memory-limit")); ml != nil {
		if n, ok := adapter.ParseMemoryLimit(adapter.Text(ml)); ok {
			problem.MemoryLimitBytes = n
		}
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

func parseSamples(sc adapter.Scraper, statement *html.Node) ([]model.TestCase, error) {
	block, err := sc.Require(statement, adapter.ByClass("sample-test"), "div.sample-test")
	if err != nil {
		return nil, err
	}
	inputs := adapter.FindAll(block, adapter.ByClass("input"))
	outputs := adapter.FindAll(block, adapter.ByClass("output"))
	if len(inputs) == 0 {
		return nil, sc.Missing("div.input")
	}
	if len(inputs) != len(outputs) {
		return nil, sc.Missing("div.output for every div.input")
	}

	cases := make([]model.TestCase, 0, len(inputs))
	for i := range inputs {
		in := adapter.Find(inputs[i], adapter.ByTag(atom.Pre))
		out := adapter.Find(outputs[i], adapter.ByTag(atom.Pre))
		if in == nil || out == nil {
			return nil, sc.Missing("pre in sample " + strconv.Itoa(i+1))
		}
		cases = append(cases, model.TestCase{
			Name:     "sample-" + strconv.Itoa(i+1),
			Input:    adapter.NormalizeSample(preText(in)),
			Expected: adapter.NormalizeSample(preText(out)),
		})
	}
	return cases, nil
}

// preText returns the text of a sample block. Newer statements put every line in its own
// div.test-example-line.
func preText(pre *html.Node) string {
	lines := adapter.Children(pre, adapter.ByClass("test-example-line"))
	if len(lines) == 0 {
		return adapter.Text(pre)
	}
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = adapter.Text(l)
	}
	return strings.Join(parts, "\n")
}

// Submit posts the contest submit form and reads the new submission id from the "my
// submissions" table.
func (a *Adapter) Submit(ctx context.Context, s *session.Session, problem model.Problem, code, languageID string) (model.Submission, error) {
	sc := a.scraper("submit")
	submitPath := "/contest/" + url.PathEscape(problem.ContestID) + "/submit"
	resp, err := s.Do(ctx, session.Get(submitPath))
	if err != nil {
		return model.Submission{}, err
	}
	if resp.IsRedirect() || resp.StatusCode == http.StatusNotFound {
		return model.Submission{}, pkgerrors.Newf(pkgerrors.ContestNotFound, "contest %s not found", problem.ContestID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces)).
			WithDetail(pkgerrors.DetailContest, problem.ContestID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return model.Submission{}, err
	}
	doc, err := resp.Document()
	if err != nil {
		return model.Submission{}, err
	}
	if h := headerHandle(doc); h != "" {
		a.setHandle(h)
	}
	token, ok := adapter.HiddenInput(doc, "csrf_token")
	if !ok {
		return model.Submission{}, sc.Missing(`input[name="csrf_token"]`)
	}
	s.SetCSRFToken(token)
	if err := checkLanguage(sc, doc, languageID); err != nil {
		return model.Submission{}, err
	}

	ftaa, bfaa := browserTokens()
	req := session.PostForm(submitPath, url.Values{
		"csrf_token":            {token},
		"action":                {"submitSolutionFormSubmitted"},
		"ftaa":                  {ftaa},
		"bfaa":                  {bfaa},
		"submittedProblemIndex": {problemIndex(problem)},
		"programTypeId":         {languageID},
		"source":                {code},
		"tabSize":               {"4"},
	})
	req.Query = url.Values{"csrf_token": {token}}
	submittedAt := time.Now()
	resp, err = s.Do(ctx, req)
	if err != nil {
		return model.Submission{}, err
	}
	if !resp.IsRedirect() {
		reason := "submission was not accepted"
		if rdoc, err := resp.Document(); err == nil {
			if e := adapter.Find(rdoc, adapter.And(adapter.ByTag(atom.Span), adapter.ByClass("error"))); e != nil {
				reason = adapter.TrimmedText(e)
			}
		}
		return model.Submission{}, pkgerrors.New(pkgerrors.SubmitRejected).WithMessage(reason).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces)).
			WithDetail(pkgerrors.DetailProblem, problem.ID)
	}

	id, err := a.latestSubmissionID(ctx, s, problem.ContestID)
	if err != nil {
		return model.Submission{}, err
	}
	return model.Submission{
		Judge:       model.JudgeCodeforces,
		ContestID:   problem.ContestID,
		ProblemID:   problem.ID,
		ID:          id,
		Language:    languageID,
		Code:        code,
		SubmittedAt: submittedAt,
		Verdict:     model.VerdictPending,
		URL:         s.URL("/contest/" + problem.ContestID + "/submission/" + id),
	}, nil
}

func checkLanguage(sc adapter.Scraper, doc *html.Node, languageID string) error {
	sel := adapter.Find(doc, adapter.And(adapter.ByTag(atom.Select), adapter.ByAttr("name", "programTypeId")))
	if sel == nil {
		return sc.Missing(`select[name="programTypeId"]`)
	}
	for _, opt := range adapter.FindAll(sel, adapter.ByTag(atom.Option)) {
		if adapter.Attr(opt, "value") == languageID {
			return nil
		}
	}
	return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not available", languageID).
		WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces))
}

func (a *Adapter) latestSubmissionID(ctx context.Context, s *session.Session, contestID string) (string, error) {
	resp, err := s.Do(ctx, session.Get("/contest/"+url.PathEscape(contestID)+"/my"))
	if err != nil {
		return "", err
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return "", err
	}
	doc, err := resp.Document()
	if err != nil {
		return "", err
	}
	row := adapter.Find(doc, adapter.And(adapter.ByTag(atom.Tr), adapter.HasAttr("data-submission-id")))
	if row == nil {
		return "", a.scraper("submit").Missing("tr[data-submission-id]")
	}
	return adapter.Attr(row, "data-submission-id"), nil
}

var (
	_ adapter.Adapter           = (*Adapter)(nil)
	_ adapter.AcceptedChecker   = (*Adapter)(nil)
	_ session.ChallengeDetector = (*Adapter)(nil)
	_ session.Prober            = (*Adapter)(nil)
)
