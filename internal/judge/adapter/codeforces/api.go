package codeforces

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"
)

// apiResponse is the envelope of every Codeforces API answer.
type apiResponse[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

type apiProblem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
}

type apiStandings struct {
	Contest struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"contest"`
	Problems []apiProblem `json:"problems"`
}

type apiSubmission struct {
	ID                  int64      `json:"id"`
	ContestID           int        `json:"contestId"`
	CreationTimeSeconds int64      `json:"creationTimeSeconds"`
	Problem             apiProblem `json:"problem"`
	ProgrammingLanguage string     `json:"programmingLanguage"`
	Verdict             string     `json:"verdict"`
	PassedTestCount     int        `json:"passedTestCount"`
}

// callAPI performs one API method. A FAILED status comes back with HTTP 400 and a comment
// explaining what was wrong.
func callAPI[T any](ctx context.Context, s *session.Session, method string, query url.Values) (T, error) {
	var zero T
	req := session.Get("/api/" + method)
	req.Query = query
	req.NoReferer = true
	resp, err := s.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return zero, resp.ExpectStatus(http.StatusOK)
	}
	var out apiResponse[T]
	if err := resp.DecodeJSON(&out); err != nil {
		return zero, err
	}
	if out.Status != "OK" {
		code := pkgerrors.UnexpectedStatus
		if strings.Contains(out.Comment, "not found") {
			code = pkgerrors.NotFound
		}
		return zero, pkgerrors.Newf(code, "codeforces api %s: %s", method, out.Comment).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces)).
			WithDetail(pkgerrors.DetailStatus, resp.StatusCode)
	}
	return out.Result, nil
}

// ListProblems reads the problem set of a contest from contest.standings.
func (a *Adapter) ListProblems(ctx context.Context, s *session.Session, contestID string) ([]model.Problem, error) {
	standings, err := callAPI[apiStandings](ctx, s, "contest.standings", url.Values{
		"contestId": {contestID},
		"from":      {"1"},
		"count":     {"1"},
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.NotFound) {
			return nil, pkgerrors.Newf(pkgerrors.ContestNotFound, "contest %s not found", contestID).
				WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces)).
				WithDetail(pkgerrors.DetailContest, contestID)
		}
		return nil, err
	}
	if len(standings.Problems) == 0 {
		return nil, a.scraper("list_problems").Missing("result.problems")
	}

	problems := make([]model.Problem, 0, len(standings.Problems))
	for _, p := range standings.Problems {
		problems = append(problems, model.Problem{
			Judge:     model.JudgeCodeforces,
			ContestID: contestID,
			ID:        contestID + p.Index,
			Index:     p.Index,
			Name:      p.Name,
			URL:       s.URL("/contest/" + contestID + "/problem/" + p.Index),
		})
	}
	return problems, nil
}

func (a *Adapter) recentSubmissions(ctx context.Context, s *session.Session, contestID string, count int) ([]apiSubmission, error) {
	handle := a.currentHandle()
	if handle == "" {
		return nil, pkgerrors.New(pkgerrors.NotLoggedIn).
			WithMessage("codeforces handle is unknown, log in or set the handle option").
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces))
	}
	return callAPI[[]apiSubmission](ctx, s, "contest.status", url.Values{
		"contestId": {contestID},
		"handle":    {handle},
		"from":      {"1"},
		"count":     {strconv.Itoa(count)},
	})
}

// PollVerdict looks sub up in the user's recent submissions to the contest.
func (a *Adapter) PollVerdict(ctx context.Context, s *session.Session, sub model.Submission) (model.Submission, error) {
	subs, err := a.recentSubmissions(ctx, s, sub.ContestID, 50)
	if err != nil {
		return sub, err
	}
	for _, entry := range subs {
		if strconv.FormatInt(entry.ID, 10) != sub.ID {
			continue
		}
		sub.Verdict = ParseVerdict(entry.Verdict)
		sub.Detail = entry.Verdict
		if sub.Verdict == model.VerdictPending {
			sub.Detail = "Running on test " + strconv.Itoa(entry.PassedTestCount+1)
		}
		return sub, nil
	}
	return sub, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", sub.ID).
		WithDetail(pkgerrors.DetailJudge, string(model.JudgeCodeforces))
}

// IsAccepted reports whether any recent submission to problem was accepted.
func (a *Adapter) IsAccepted(ctx context.Context, s *session.Session, problem model.Problem) (bool, error) {
	subs, err := a.recentSubmissions(ctx, s, problem.ContestID, 1000)
	if err != nil {
		return false, err
	}
	index := problemIndex(problem)
	for _, entry := range subs {
		if entry.Problem.Index == index && entry.Verdict == "OK" {
			return true, nil
		}
	}
	return false, nil
}

// ParseVerdict maps an API verdict to a verdict.
func ParseVerdict(v string) model.Verdict {
	switch v {
	case "OK":
		return model.VerdictAccepted
	case "WRONG_ANSWER", "PRESENTATION_ERROR", "PARTIAL", "CHALLENGED":
		return model.VerdictWrongAnswer
	case "TIME_LIMIT_EXCEEDED", "IDLENESS_LIMIT_EXCEEDED":
		return model.VerdictTimeLimitExceeded
	case "MEMORY_LIMIT_EXCEEDED":
		return model.VerdictMemoryLimitExceeded
	case "RUNTIME_ERROR", "OUTPUT_LIMIT_EXCEEDED", "SECURITY_VIOLATED", "CRASHED":
		return model.VerdictRuntimeError
	case "COMPILATION_ERROR":
		return model.VerdictCompileError
	case "", "TESTING", "SUBMITTED":
		return model.VerdictPending
	default:
		return model.VerdictUnknown
	}
}
