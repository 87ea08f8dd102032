// Package adapter defines the capability contract every supported judge implements and the
// registry the judge packages add themselves to.
package adapter

import (
	"context"
	"time"

	"ojkit/internal/judge/model"
	"ojkit/internal/judge/session"
)

// Adapter translates one judge's pages and APIs into domain values. All network access goes
// through the session passed in, so adapters hold no authentication state of their own.
type Adapter interface {
	session.Site

	// ListProblems returns the problems of a contest in contest order.
	ListProblems(ctx context.Context, s *session.Session, contestID string) ([]model.Problem, error)
	// FetchProblem returns problem with its limits and sample test cases filled in.
	FetchProblem(ctx context.Context, s *session.Session, problem model.Problem) (model.Problem, error)
	// FetchTestCases returns the sample test cases of problem.
	FetchTestCases(ctx context.Context, s *session.Session, problem model.Problem) ([]model.TestCase, error)
	// Submit sends code and returns the new submission, usually still Pending.
	Submit(ctx context.Context, s *session.Session, problem model.Problem, code, languageID string) (model.Submission, error)
	// PollVerdict fetches the current state of sub once.
	PollVerdict(ctx context.Context, s *session.Session, sub model.Submission) (model.Submission, error)
}

// FullTestCaseFetcher is implemented by judges that publish their complete test data.
type FullTestCaseFetcher interface {
	FetchFullTestCases(ctx context.Context, s *session.Session, problem model.Problem) ([]model.TestCase, error)
}

// AcceptedChecker is implemented by judges that can tell whether the logged in user already
// solved a problem.
type AcceptedChecker interface {
	IsAccepted(ctx context.Context, s *session.Session, problem model.Problem) (bool, error)
}

// Base carries the identity shared by every adapter.
type Base struct {
	judge    model.Judge
	baseURL  string
	interval time.Duration
}

// NewBase creates a Base.
func NewBase(judge model.Judge, baseURL string, interval time.Duration) Base {
	return Base{judge: judge, baseURL: baseURL, interval: interval}
}

func (b Base) Judge() model.Judge         { return b.judge }
func (b Base) BaseURL() string            { return b.baseURL }
func (b Base) MinInterval() time.Duration { return b.interval }
