package model

import (
	"fmt"
	"time"
)

// Status is the local classification of one test case run.
type Status string

const (
	StatusPassed              Status = "Passed"
	StatusWrongAnswer         Status = "WrongAnswer"
	StatusTimeLimitExceeded   Status = "TimeLimitExceeded"
	StatusRuntimeError        Status = "RuntimeError"
	StatusOutputLimitExceeded Status = "OutputLimitExceeded"
)

// Short returns the conventional abbreviation.
func (s Status) Short() string {
	switch s {
	case StatusPassed:
		return "AC"
	case StatusWrongAnswer:
		return "WA"
	case StatusTimeLimitExceeded:
		return "TLE"
	case StatusRuntimeError:
		return "RE"
	case StatusOutputLimitExceeded:
		return "OLE"
	default:
		return "??"
	}
}

// Outcome is produced once per test case and never changed afterwards.
type Outcome struct {
	Index    int
	Name     string
	Status   Status
	Elapsed  time.Duration
	ExitCode int
	// Signal names the signal that ended the process, if any.
	Signal string
	Stdout string
	Stderr string
	Diff   string
	// MemoryLimited is set when the process hit its address space cap before failing.
	MemoryLimited bool
	// Err describes a harness failure for this case, e.g. the process ran but its
	// result could not be collected. Status is RuntimeError when set.
	Err string
}

// Passed reports whether the case succeeded.
func (o Outcome) Passed() bool { return o.Status == StatusPassed }

// Summary aggregates the ordered outcomes of one run.
type Summary struct {
	Total    int
	Passed   int
	Outcomes []Outcome
}

// Summarize counts outcomes. total is the number of cases requested, which may exceed
// len(outcomes) when the run was stopped early.
func Summarize(total int, outcomes []Outcome) Summary {
	s := Summary{Total: total, Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Passed() {
			s.Passed++
		}
	}
	return s
}

// Failed is the number of cases that did not pass, including ones never run.
func (s Summary) Failed() int { return s.Total - s.Passed }

// AllPassed reports whether every requested case ran and passed.
func (s Summary) AllPassed() bool { return s.Total > 0 && s.Passed == s.Total }

// String returns "X/Y passed".
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d passed", s.Passed, s.Total)
}

// Message returns the human summary printed after a run.
func (s Summary) Message() string {
	if s.AllPassed() {
		return fmt.Sprintf("All of the %s passed.", plural(s.Total, "test", "tests"))
	}
	return fmt.Sprintf("%d/%d %s failed.", s.Failed(), s.Total, pluralWord(s.Total, "test", "tests"))
}

func plural(n int, one, many string) string {
	return fmt.Sprintf("%d %s", n, pluralWord(n, one, many))
}

func pluralWord(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
