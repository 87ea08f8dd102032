package testutil

import (
	"testing"
	"time"

	"ojkit/internal/common/retry"
	"ojkit/internal/judge/session"
)

// FastSessionOptions returns session options with short retry delays for tests.
func FastSessionOptions() session.Options {
	return session.Options{
		Timeout: 5 * time.Second,
		Retry:   retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 2},
	}
}

// NewSession creates a session for site or fails the test.
func NewSession(t *testing.T, site session.Site) *session.Session {
	t.Helper()
	s, err := session.New(site, FastSessionOptions())
	MustNoError(t, err)
	return s
}
