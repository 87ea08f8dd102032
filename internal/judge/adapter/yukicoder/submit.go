package yukicoder

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"
)

type apiLanguage struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

type apiSubmitResult struct {
	SubmissionID int64 `json:"SubmissionId"`
}

type apiSubmission struct {
	ID        int64  `json:"Id"`
	ProblemID int    `json:"ProblemId"`
	Language  string `json:"Language"`
	Status    string `json:"Status"`
}

type apiError struct {
	Message string `json:"Message"`
}

func (a *Adapter) checkLanguage(ctx context.Context, s *session.Session, languageID string) error {
	resp, err := s.Do(ctx, apiGet("/languages"))
	if err != nil {
		return err
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return err
	}
	var langs []apiLanguage
	if err := resp.DecodeJSON(&langs); err != nil {
		return err
	}
	for _, l := range langs {
		if l.ID == languageID {
			return nil
		}
	}
	return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not available", languageID).
		WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder))
}

// Submit posts code through the submit API.
func (a *Adapter) Submit(ctx context.Context, s *session.Session, problem model.Problem, code, languageID string) (model.Submission, error) {
	if err := a.checkLanguage(ctx, s, languageID); err != nil {
		return model.Submission{}, err
	}

	req, err := session.PostMultipart("/api/v1/problems/no/"+url.PathEscape(problem.ID)+"/submit", url.Values{
		"lang":   {languageID},
		"source": {code},
	})
	if err != nil {
		return model.Submission{}, pkgerrors.Wrap(err, pkgerrors.InternalError)
	}
	req.NoReferer = true
	submittedAt := time.Now()
	resp, err := s.Do(ctx, req.WithHeader("Accept", "application/json"))
	if err != nil {
		return model.Submission{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return model.Submission{}, notFound(pkgerrors.ProblemNotFound, "problem", problem.ID)
	default:
		reason := "submission was not accepted"
		var apiErr apiError
		if resp.DecodeJSON(&apiErr) == nil && apiErr.Message != "" {
			reason = apiErr.Message
		}
		return model.Submission{}, pkgerrors.New(pkgerrors.SubmitRejected).WithMessage(reason).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder)).
			WithDetail(pkgerrors.DetailProblem, problem.ID).
			WithDetail(pkgerrors.DetailStatus, resp.StatusCode)
	}
	var result apiSubmitResult
	if err := resp.DecodeJSON(&result); err != nil {
		return model.Submission{}, err
	}
	if result.SubmissionID == 0 {
		return model.Submission{}, a.scraper("submit").Missing("SubmissionId")
	}
	id := strconv.FormatInt(result.SubmissionID, 10)
	return model.Submission{
		Judge:       model.JudgeYukicoder,
		ContestID:   problem.ContestID,
		ProblemID:   problem.ID,
		ID:          id,
		Language:    languageID,
		Code:        code,
		SubmittedAt: submittedAt,
		Verdict:     model.VerdictPending,
		URL:         s.URL("/submissions/" + id),
	}, nil
}

// PollVerdict reads the submission from the API.
func (a *Adapter) PollVerdict(ctx context.Context, s *session.Session, sub model.Submission) (model.Submission, error) {
	resp, err := s.Do(ctx, apiGet("/submissions/"+url.PathEscape(sub.ID)))
	if err != nil {
		return sub, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return sub, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", sub.ID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeYukicoder))
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return sub, err
	}
	var entry apiSubmission
	if err := resp.DecodeJSON(&entry); err != nil {
		return sub, err
	}
	sub.Detail = entry.Status
	sub.Verdict = ParseVerdict(entry.Status)
	return sub, nil
}

// ParseVerdict maps a yukicoder status to a verdict.
func ParseVerdict(status string) model.Verdict {
	switch status {
	case "AC":
		return model.VerdictAccepted
	case "WA":
		return model.VerdictWrongAnswer
	case "TLE":
		return model.VerdictTimeLimitExceeded
	case "MLE":
		return model.VerdictMemoryLimitExceeded
	case "RE", "OLE":
		return model.VerdictRuntimeError
	case "CE":
		return model.VerdictCompileError
	case "WJ", "Judge", "":
		return model.VerdictPending
	default:
		return model.VerdictUnknown
	}
}

var (
	_ adapter.Adapter             = (*Adapter)(nil)
	_ adapter.FullTestCaseFetcher = (*Adapter)(nil)
)
