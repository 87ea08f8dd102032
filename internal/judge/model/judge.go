// Package model defines the judge-agnostic domain types shared by adapters, the store and the runner.
package model

import (
	"strings"

	pkgerrors "ojkit/pkg/errors"
)

// Judge identifies a supported online judge.
type Judge string

const (
	JudgeAtCoder    Judge = "atcoder"
	JudgeCodeforces Judge = "codeforces"
	JudgeYukicoder  Judge = "yukicoder"
)

// AllJudges lists every supported judge in display order.
var AllJudges = []Judge{JudgeAtCoder, JudgeCodeforces, JudgeYukicoder}

// ParseJudge converts user input into a Judge.
func ParseJudge(s string) (Judge, error) {
	j := Judge(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllJudges {
		if j == known {
			return j, nil
		}
	}
	return "", pkgerrors.Newf(pkgerrors.JudgeNotFound, "unknown judge %q", s).WithDetail(pkgerrors.DetailJudge, s)
}

func (j Judge) String() string { return string(j) }

// Credentials are held in memory for the lifetime of a session and never persisted.
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// Empty reports whether no secret was supplied.
func (c Credentials) Empty() bool {
	return c.Password == "" && c.APIKey == ""
}

// String redacts secrets so credentials can be logged by accident without leaking.
func (c Credentials) String() string {
	return "Credentials{Username:" + c.Username + ", Password:" + redact(c.Password) + ", APIKey:" + redact(c.APIKey) + "}"
}

// GoString keeps %#v redacted too.
func (c Credentials) GoString() string { return c.String() }

func redact(s string) string {
	if s == "" {
		return `""`
	}
	return "***"
}

// SessionState is the login state of one judge session.
type SessionState int32

const (
	StateLoggedOut SessionState = iota
	StateLoggingIn
	StateLoggedIn
	StateExpired
	StateChallengeRequired
)

func (s SessionState) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StateLoggingIn:
		return "LoggingIn"
	case StateLoggedIn:
		return "LoggedIn"
	case StateExpired:
		return "Expired"
	case StateChallengeRequired:
		return "ChallengeRequired"
	default:
		return "Unknown"
	}
}
