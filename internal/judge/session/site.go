// Package session owns the authenticated HTTP state for each judge: cookie jar, CSRF token,
// login state machine and the request path through rate limiting and retries.
package session

import (
	"context"
	"time"

	"ojkit/internal/judge/model"
)

// Site is the part of a judge adapter the session needs in order to log in and to notice
// that the judge has dropped the login.
type Site interface {
	Judge() model.Judge
	BaseURL() string
	// MinInterval is the judge's requested spacing between requests.
	MinInterval() time.Duration
	// Authenticate performs the login exchange using s.Send.
	Authenticate(ctx context.Context, s *Session, creds model.Credentials) error
	// IsSessionValid reports false when resp shows the judge no longer accepts the session,
	// e.g. a redirect to its login page.
	IsSessionValid(resp *Response) bool
}

// ChallengeDetector is implemented by sites that can recognize a CAPTCHA or second factor
// page. It returns the marker that was found, or "".
type ChallengeDetector interface {
	DetectChallenge(resp *Response) string
}

// Prober is implemented by sites that can check whether imported cookies still log in.
type Prober interface {
	Probe(ctx context.Context, s *Session) error
}
