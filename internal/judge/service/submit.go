package service

import (
	"context"
	"strings"
	"time"

	"ojkit/internal/judge/adapter"
	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"
	"ojkit/pkg/utils/logger"

	"go.uber.org/zap"
)

// SubmitRequest describes one submission.
type SubmitRequest struct {
	Code       string
	LanguageID string
	// Force submits even when the problem is already accepted.
	Force bool
}

// Submit sends code to the judge and returns the new, usually pending, submission.
func (s *Service) Submit(ctx context.Context, problem model.Problem, req SubmitRequest) (model.Submission, error) {
	a, sess, err := s.resolve(problem.Judge)
	if err != nil {
		return model.Submission{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return model.Submission{}, annotate(pkgerrors.New(pkgerrors.SubmitRejected).WithMessage("source code is empty"), problem, "submit")
	}
	ctx = withPhase(withProblem(ctx, problem), "submit")
	if err := confirmRestored(ctx, sess); err != nil {
		return model.Submission{}, annotate(err, problem, "submit")
	}

	if checker, ok := a.(adapter.AcceptedChecker); ok && !req.Force {
		accepted, err := checker.IsAccepted(ctx, sess, problem)
		if err != nil {
			return model.Submission{}, annotate(err, problem, "submit")
		}
		if accepted {
			return model.Submission{}, annotate(pkgerrors.New(pkgerrors.AlreadyAccepted), problem, "submit")
		}
	}

	sub, err := a.Submit(ctx, sess, problem, req.Code, req.LanguageID)
	if err != nil {
		return model.Submission{}, annotate(err, problem, "submit")
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	logger.Info(ctx, "submitted",
		zap.String("submission", sub.ID),
		zap.String("language", req.LanguageID),
		zap.String("url", sub.URL),
	)
	return sub, nil
}

// PollVerdict fetches the current state of sub once.
func (s *Service) PollVerdict(ctx context.Context, sub model.Submission) (model.Submission, error) {
	if sub.ID == "" {
		return sub, pkgerrors.BadRequest("submission id is required")
	}
	if cached, ok := s.cachedVerdict(ctx, sub); ok {
		return cached, nil
	}
	a, sess, err := s.resolve(sub.Judge)
	if err != nil {
		return sub, err
	}
	problem := model.Problem{Judge: sub.Judge, ContestID: sub.ContestID, ID: sub.ProblemID}
	ctx = withPhase(withProblem(ctx, problem), "poll")

	cur, err := a.PollVerdict(ctx, sess, sub)
	if err != nil {
		return sub, annotate(err, problem, "poll")
	}
	if cur.Verdict.IsTerminal() && cur.Verdict != model.VerdictUnknown {
		s.storeVerdict(ctx, cur)
	}
	return cur, nil
}

// AwaitVerdict polls sub on a bounded interval until its verdict leaves Pending. After the
// maximum wait it returns the last known state with verdict Unknown instead of blocking.
// Only one poller per submission talks to the judge; others wait for its result.
func (s *Service) AwaitVerdict(ctx context.Context, sub model.Submission, onUpdate func(model.Submission)) (model.Submission, error) {
	if sub.ID == "" {
		return sub, pkgerrors.BadRequest("submission id is required")
	}
	key := string(sub.Judge) + ":" + sub.ID
	unlock := s.polls.Lock(key)
	defer unlock()

	if s.cache != nil {
		lockKey := lockKeyPrefix + key
		locked, err := s.cache.TryLock(ctx, lockKey, s.pollMaxWait+s.pollInterval)
		if err != nil {
			return sub, pkgerrors.Wrapf(err, pkgerrors.LockFailed, "acquire poll lock failed")
		}
		if !locked {
			return s.waitForVerdict(ctx, sub)
		}
		defer func() {
			_ = s.cache.Unlock(context.WithoutCancel(ctx), lockKey)
		}()
	}

	deadline := time.Now().Add(s.pollMaxWait)
	last := sub
	for {
		cur, err := s.PollVerdict(ctx, last)
		if err != nil {
			return last, err
		}
		last = cur
		if onUpdate != nil {
			onUpdate(cur)
		}
		if cur.Verdict.IsTerminal() {
			return cur, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn(ctx, "verdict still pending, giving up",
				zap.String("submission", sub.ID), zap.Duration("waited", s.pollMaxWait))
			last.Verdict = model.VerdictUnknown
			return last, nil
		}
		timer := time.NewTimer(min(s.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, pkgerrors.FromContext(ctx.Err())
		case <-timer.C:
		}
	}
}

// waitForVerdict waits for another process's poller to publish the verdict.
func (s *Service) waitForVerdict(ctx context.Context, sub model.Submission) (model.Submission, error) {
	deadline := time.Now().Add(s.pollMaxWait)
	for {
		if cached, ok := s.cachedVerdict(ctx, sub); ok {
			return cached, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			sub.Verdict = model.VerdictUnknown
			return sub, nil
		}
		timer := time.NewTimer(min(s.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return sub, pkgerrors.FromContext(ctx.Err())
		case <-timer.C:
		}
	}
}
