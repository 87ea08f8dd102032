// Package yukicoder implements the adapter for yukicoder. Authentication uses an API key
// instead of a login form.
package yukicoder

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	"ojkit/internal/judge/testcase"
	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/net/html/atom"
)

const (
	DefaultBaseURL     = "https://yukicoder.me"
	DefaultMinInterval = time.Second
)

func init() {
	adapter.Register(adapter.Definition{
		Judge:              model.JudgeYukicoder,
		Name:               "yukicoder",
		DefaultBaseURL:     DefaultBaseURL,
		DefaultMinInterval: DefaultMinInterval,
		Build: func(opts adapter.Options) (adapter.Adapter, error) {
			return New(opts), nil
		},
	})
}

var timeLimitRe = regexp.MustCompile(`([\d.]+)\s*秒`)

// Adapter talks to yukicoder.
type Adapter struct {
	adapter.Base
}

// New creates a yukicoder adapter.
func New(opts adapter.Options) *Adapter {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &Adapter{Base: adapter.NewBase(model.JudgeYukicoder, base, interval)}
}

func (a *Adapter) scraper(phase string) adapter.Scraper {
	return adapter.Scraper{Judge: string(model.JudgeYukicoder), Phase: phase}
}

func apiGet(path string) session.Request {
	req := session.Get("/api/v1" + path)
	req.NoReferer = true
	return req.WithHeader("Accept", "application/json")
}

// Authenticate installs the API key as a bearer token and checks it.
func (a *Adapter) Authenticate(ctx context.Context, s *session.Session, creds model.Credentials) error {
	if creds.APIKey == "" {
		return pkgerrors.New(pkgerrors.CredentialsMissing).
			WithMessage("yukicoder needs an API key").
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder))
	}
	s.SetDefaultHeader("Authorization", "Bearer "+creds.APIKey)
	resp, err := s.Send(ctx, apiGet("/user/key"))
	if err != nil {
		s.SetDefaultHeader("Authorization", "")
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.SetDefaultHeader("Authorization", "")
		return pkgerrors.New(pkgerrors.InvalidCredentials).WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder))
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		s.SetDefaultHeader("Authorization", "")
		return err
	}
	return nil
}

// IsSessionValid treats 401 as a rejected or revoked key.
func (a *Adapter) IsSessionValid(resp *session.Response) bool {
	return resp.StatusCode != http.StatusUnauthorized
}

type apiContest struct {
	ID            int    `json:"Id"`
	Name          string `json:"Name"`
	ProblemIDList []int  `json:"ProblemIdList"`
}

type apiProblem struct {
	No        int    `json:"No"`
	ProblemID int    `json:"ProblemId"`
	Title     string `json:"Title"`
}

func notFound(code pkgerrors.ErrorCode, what, id string) *pkgerrors.Error {
	e := pkgerrors.Newf(code, "%s %s not found", what, id).WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder))
	if code == pkgerrors.ContestNotFound {
		return e.WithDetail(pkgerrors.DetailContest, id)
	}
	return e.WithDetail(pkgerrors.DetailProblem, id)
}

// ListProblems resolves the contest's problem ids to problem numbers.
func (a *Adapter) ListProblems(ctx context.Context, s *session.Session, contestID string) ([]model.Problem, error) {
	resp, err := s.Do(ctx, apiGet("/contest/id/"+url.PathEscape(contestID)))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound(pkgerrors.ContestNotFound, "contest", contestID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return nil, err
	}
	var contest apiContest
	if err := resp.DecodeJSON(&contest); err != nil {
		return nil, err
	}
	if len(contest.ProblemIDList) == 0 {
		return nil, a.scraper("list_problems").Missing("ProblemIdList")
	}

	problems := make([]model.Problem, 0, len(contest.ProblemIDList))
	for i, pid := range contest.ProblemIDList {
		resp, err := s.Do(ctx, apiGet("/problems/"+strconv.Itoa(pid)))
		if err != nil {
			return nil, err
		}
		if err := resp.ExpectStatus(http.StatusOK); err != nil {
			return nil, err
		}
		var p apiProblem
		if err := resp.DecodeJSON(&p); err != nil {
			return nil, err
		}
		no := strconv.Itoa(p.No)
		problems = append(problems, model.Problem{
			Judge:     model.JudgeYukicoder,
			ContestID: contestID,
			ID:        no,
			Index:     indexLabel(i),
			Name:      p.Title,
			URL:       s.URL("/problems/no/" + no),
		})
	}
	return problems, nil
}

// indexLabel returns "A".."Z", then "AA" and so on.
func indexLabel(i int) string {
	label := ""
	for i >= 0 {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
	}
	return label
}

// FetchProblem reads the title from the API and limits plus samples from the problem page.
func (a *Adapter) FetchProblem(ctx context.Context, s *session.Session, problem model.Problem) (model.Problem, error) {
	sc := a.scraper("fetch_test_cases")
	if problem.Name == "" {
		resp, err := s.Do(ctx, apiGet("/problems/no/"+url.PathEscape(problem.ID)))
		if err != nil {
			return problem, err
		}
		if resp.StatusCode == http.StatusNotFound {
			return problem, notFound(pkgerrors.ProblemNotFound, "problem", problem.ID)
		}
		if err := resp.ExpectStatus(http.StatusOK); err != nil {
			return problem, err
		}
		var p apiProblem
		if err := resp.DecodeJSON(&p); err != nil {
			return problem, err
		}
		problem.Name = p.Title
	}

	resp, err := s.Do(ctx, session.Get("/problems/no/"+url.PathEscape(problem.ID)))
	if err != nil {
		return problem, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return problem, notFound(pkgerrors.ProblemNotFound, "problem", problem.ID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return problem, err
	}
	doc, err := resp.Document()
	if err != nil {
		return problem, err
	}
	content, err := sc.Require(doc, adapter.ByID("content"), "#content")
	if err != nil {
		return problem, err
	}
	text := adapter.Text(content)
	if m := timeLimitRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			problem.TimeLimit = time.Duration(v * float64(time.Second))
		}
	}
	if i := strings.Index(text, "メモリ制限"); i >= 0 {
		if n, ok := adapter.ParseMemoryLimit(text[i:]); ok {
			problem.MemoryLimitBytes = n
		}
	}
	problem.URL = resp.URL.String()

	samples, err := sc.RequireAll(content, adapter.ByClass("sample"), "div.sample")
	if err != nil {
		return problem, pkgerrors.GetError(err).WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	cases := make([]model.TestCase, 0, len(samples))
	for i, sample := range samples {
		pres := adapter.FindAll(sample, adapter.ByTag(atom.Pre))
		if len(pres) < 2 {
			return problem, sc.Missing("input and output pre in sample " + strconv.Itoa(i+1)).
				WithDetail(pkgerrors.DetailProblem, problem.ID)
		}
		cases = append(cases, model.TestCase{
			Name:     "sample-" + strconv.Itoa(i+1),
			Input:    adapter.NormalizeSample(adapter.Text(pres[0])),
			Expected: adapter.NormalizeSample(adapter.Text(pres[1])),
		})
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

// FetchFullTestCases downloads the complete test data archive, which yukicoder publishes for
// logged in users.
func (a *Adapter) FetchFullTestCases(ctx context.Context, s *session.Session, problem model.Problem) ([]model.TestCase, error) {
	resp, err := s.Do(ctx, session.Get("/problems/no/"+url.PathEscape(problem.ID)+"/testcase.zip"))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound(pkgerrors.ProblemNotFound, "problem", problem.ID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return nil, err
	}
	cases, err := testcase.ParseArchive(bytes.NewReader(resp.Body), int64(len(resp.Body)))
	if err != nil {
		return nil, pkgerrors.GetError(err).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder)).
			WithDetail(pkgerrors.DetailProblem, problem.ID)
	}
	return cases, nil
}
