package atcoder

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
	pkgerrors "ojkit/pkg/errors"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Submit posts code through the contest submit form and looks up the id of the new submission
// on the "my submissions" page.
func (a *Adapter) Submit(ctx context.Context, s *session.Session, problem model.Problem, code, languageID string) (model.Submission, error) {
	sc := a.scraper("submit")
	resp, err := s.Do(ctx, session.Get(contestPath(problem.ContestID, "submit")))
	if err != nil {
		return model.Submission{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.Submission{}, pkgerrors.Newf(pkgerrors.ContestNotFound, "contest %s not found", problem.ContestID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder)).
			WithDetail(pkgerrors.DetailContest, problem.ContestID)
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return model.Submission{}, err
	}
	doc, err := resp.Document()
	if err != nil {
		return model.Submission{}, err
	}
	token, ok := adapter.HiddenInput(doc, "csrf_token")
	if !ok {
		return model.Submission{}, sc.Missing(`input[name="csrf_token"]`)
	}
	s.SetCSRFToken(token)

	if err := checkLanguage(sc, doc, languageID); err != nil {
		return model.Submission{}, err
	}

	submittedAt := time.Now()
	resp, err = s.Do(ctx, session.PostForm(contestPath(problem.ContestID, "submit"), url.Values{
		"data.TaskScreenName": {problem.ID},
		"data.LanguageId":     {languageID},
		"sourceCode":          {code},
		"csrf_token":          {token},
	}))
	if err != nil {
		return model.Submission{}, err
	}
	if !resp.IsRedirect() {
		reason := "submission was not accepted"
		if rdoc, err := resp.Document(); err == nil {
			if alert := adapter.Find(rdoc, adapter.ByClass("alert-danger")); alert != nil {
				reason = adapter.TrimmedText(alert)
			}
		}
		return model.Submission{}, pkgerrors.New(pkgerrors.SubmitRejected).WithMessage(reason).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder)).
			WithDetail(pkgerrors.DetailProblem, problem.ID).
			WithDetail(pkgerrors.DetailStatus, resp.StatusCode)
	}

	id, err := a.latestSubmissionID(ctx, s, problem)
	if err != nil {
		return model.Submission{}, err
	}
	return model.Submission{
		Judge:       model.JudgeAtCoder,
		ContestID:   problem.ContestID,
		ProblemID:   problem.ID,
		ID:          id,
		Language:    languageID,
		Code:        code,
		SubmittedAt: submittedAt,
		Verdict:     model.VerdictPending,
		URL:         s.URL(contestPath(problem.ContestID, "submissions", id)),
	}, nil
}

func checkLanguage(sc adapter.Scraper, doc *html.Node, languageID string) error {
	sel := adapter.Find(doc, adapter.And(adapter.ByTag(atom.Select), adapter.ByAttr("name", "data.LanguageId")))
	if sel == nil {
		return sc.Missing(`select[name="data.LanguageId"]`)
	}
	for _, opt := range adapter.FindAll(sel, adapter.ByTag(atom.Option)) {
		if adapter.Attr(opt, "value") == languageID {
			return nil
		}
	}
	return pkgerrors.Newf(pkgerrors.LanguageNotSupported, "language %q is not available", languageID).
		WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder))
}

func (a *Adapter) latestSubmissionID(ctx context.Context, s *session.Session, problem model.Problem) (string, error) {
	sc := a.scraper("submit")
	req := session.Get(contestPath(problem.ContestID, "submissions", "me"))
	req.Query = url.Values{"f.Task": {problem.ID}}
	resp, err := s.Do(ctx, req)
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
	id, ok := firstSubmissionID(doc)
	if !ok {
		return "", sc.Missing("submission link")
	}
	return id, nil
}

func firstSubmissionID(doc *html.Node) (string, bool) {
	tbody := adapter.Find(doc, adapter.ByTag(atom.Tbody))
	if tbody == nil {
		return "", false
	}
	for _, link := range adapter.FindAll(tbody, adapter.ByTag(atom.A)) {
		if m := submissionIDRe.FindStringSubmatch(adapter.Attr(link, "href")); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// PollVerdict reads the judge status of one submission.
func (a *Adapter) PollVerdict(ctx context.Context, s *session.Session, sub model.Submission) (model.Submission, error) {
	sc := a.scraper("poll")
	resp, err := s.Do(ctx, session.Get(contestPath(sub.ContestID, "submissions", url.PathEscape(sub.ID))))
	if err != nil {
		return sub, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return sub, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", sub.ID).
			WithDetail(pkgerrors.DetailJudge, string(model.JudgeAtCoder))
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return sub, err
	}
	doc, err := resp.Document()
	if err != nil {
		return sub, err
	}
	status := adapter.Find(doc, adapter.ByID("judge-status"))
	if status == nil {
		return sub, sc.Missing("#judge-status")
	}
	text := adapter.TrimmedText(status)
	sub.Detail = text
	sub.Verdict = ParseVerdict(text)
	return sub, nil
}

// ParseVerdict maps AtCoder's status label to a verdict. Progress like "3/18" or "3/18 WA"
// means judging is still running.
func ParseVerdict(label string) model.Verdict {
	label = strings.TrimSpace(label)
	if fields := strings.Fields(label); len(fields) > 0 && strings.Contains(fields[0], "/") {
		return model.VerdictPending
	}
	switch label {
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
	case "WJ", "WR", "Judging", "":
		return model.VerdictPending
	default:
		return model.VerdictUnknown
	}
}

// IsAccepted reports whether the logged in user has an AC on problem.
func (a *Adapter) IsAccepted(ctx context.Context, s *session.Session, problem model.Problem) (bool, error) {
	req := session.Get(contestPath(problem.ContestID, "submissions", "me"))
	req.Query = url.Values{"f.Task": {problem.ID}, "f.Status": {"AC"}}
	resp, err := s.Do(ctx, req)
	if err != nil {
		return false, err
	}
	if err := resp.ExpectStatus(http.StatusOK); err != nil {
		return false, err
	}
	doc, err := resp.Document()
	if err != nil {
		return false, err
	}
	_, ok := firstSubmissionID(doc)
	return ok, nil
}

var (
	_ adapter.Adapter           = (*Adapter)(nil)
	_ adapter.AcceptedChecker   = (*Adapter)(nil)
	_ session.ChallengeDetector = (*Adapter)(nil)
	_ session.Prober            = (*Adapter)(nil)
)
